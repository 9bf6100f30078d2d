package refdata

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseSnowplow converts the Snowplow referer-parser JSON document
// ({medium: {name: {domains, parameters}}}) into ordered mediums. Document order is kept;
// sources without domains are dropped.
func ParseSnowplow(data []byte) ([]Medium, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode referer document: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: referer document is not an object", ErrInvalidEntry)
	}

	root := doc.Content[0]
	var mediums []Medium
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, sources := root.Content[i], root.Content[i+1]
		if sources.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: medium %q is not an object", ErrInvalidEntry, name.Value)
		}

		m := Medium{Medium: name.Value}
		for j := 0; j+1 < len(sources.Content); j += 2 {
			var src struct {
				Domains    []string `yaml:"domains"`
				Parameters []string `yaml:"parameters"`
			}
			if err := sources.Content[j+1].Decode(&src); err != nil {
				return nil, fmt.Errorf("failed to decode source %q: %w", sources.Content[j].Value, err)
			}
			if len(src.Domains) == 0 {
				continue
			}
			m.Sources = append(m.Sources, Source{
				Name:       sources.Content[j].Value,
				Domains:    src.Domains,
				Parameters: src.Parameters,
			})
		}
		mediums = append(mediums, m)
	}
	return mediums, nil
}

// ParseZoneTab groups the zones of a tz database zone.tab file by country code. Countries
// are sorted by code; zones keep file order.
func ParseZoneTab(r io.Reader) ([]CountryTimezones, error) {
	zones := make(map[string][]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 3 {
			return nil, fmt.Errorf("%w: zone.tab line %q", ErrInvalidEntry, line)
		}
		zones[cols[0]] = append(zones[cols[0]], cols[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zone.tab: %w", err)
	}

	codes := make([]string, 0, len(zones))
	for code := range zones {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	countries := make([]CountryTimezones, 0, len(codes))
	for _, code := range codes {
		countries = append(countries, CountryTimezones{Country: code, Timezones: zones[code]})
	}
	return countries, nil
}
