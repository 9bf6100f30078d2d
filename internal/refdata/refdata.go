// Package refdata holds the static lookup tables used to enrich hits: referrer sources
// grouped by medium and the timezones observed in each country.
//
// Both tables are ordered. Lookups that can match more than one entry resolve to the
// first entry in file order.
package refdata

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	ReferrersFile        = "referrers.yaml"
	CountryTimezonesFile = "country_timezones.yaml"
)

//go:embed referrers.yaml
var embeddedReferrers []byte

//go:embed country_timezones.yaml
var embeddedCountryTimezones []byte

var (
	ErrEmptyTable   = errors.New("reference table is empty")
	ErrInvalidEntry = errors.New("invalid reference table entry")
)

// Source is a named referrer with the domains it is served from. Parameters lists the
// query parameters that carry a search term and is only meaningful for search sources.
type Source struct {
	Name       string   `yaml:"name"`
	Domains    []string `yaml:"domains"`
	Parameters []string `yaml:"parameters,omitempty"`
}

type Medium struct {
	Medium  string   `yaml:"medium"`
	Sources []Source `yaml:"sources"`
}

type CountryTimezones struct {
	Country   string   `yaml:"country"`
	Timezones []string `yaml:"timezones"`
}

type Tables struct {
	Referrers []Medium
	Countries []CountryTimezones
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
	defaultErr    error
)

// Default returns the tables compiled into the binary. They are decoded once.
func Default() *Tables {
	defaultOnce.Do(func() {
		defaultTables, defaultErr = Parse(embeddedReferrers, embeddedCountryTimezones)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("refdata: embedded tables are corrupt: %v", defaultErr))
	}
	return defaultTables
}

// Parse decodes both tables from their YAML form.
func Parse(referrers, countries []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(referrers, &t.Referrers); err != nil {
		return nil, fmt.Errorf("failed to decode referrers: %w", err)
	}
	if err := yaml.Unmarshal(countries, &t.Countries); err != nil {
		return nil, fmt.Errorf("failed to decode country timezones: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadDir reads both tables from dir, typically the output of cmd/refdata-fetch.
func LoadDir(dir string) (*Tables, error) {
	referrers, err := os.ReadFile(filepath.Join(dir, ReferrersFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read referrers: %w", err)
	}
	countries, err := os.ReadFile(filepath.Join(dir, CountryTimezonesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read country timezones: %w", err)
	}
	return Parse(referrers, countries)
}

func (t *Tables) Validate() error {
	if len(t.Referrers) == 0 || len(t.Countries) == 0 {
		return ErrEmptyTable
	}
	for _, m := range t.Referrers {
		if m.Medium == "" {
			return fmt.Errorf("%w: medium without a name", ErrInvalidEntry)
		}
		for _, s := range m.Sources {
			if s.Name == "" || len(s.Domains) == 0 {
				return fmt.Errorf("%w: source %q in medium %q", ErrInvalidEntry, s.Name, m.Medium)
			}
		}
	}
	for _, c := range t.Countries {
		if c.Country == "" {
			return fmt.Errorf("%w: country without a code", ErrInvalidEntry)
		}
	}
	return nil
}

// Write encodes the tables in the layout LoadDir expects.
func (t *Tables) Write(referrers, countries io.Writer) error {
	if err := encode(referrers, t.Referrers); err != nil {
		return fmt.Errorf("failed to encode referrers: %w", err)
	}
	if err := encode(countries, t.Countries); err != nil {
		return fmt.Errorf("failed to encode country timezones: %w", err)
	}
	return nil
}

func encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
