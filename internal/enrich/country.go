package enrich

import (
	"sync"

	"github.com/Wuchinator/litetics/internal/refdata"
)

// CountryResolver maps IANA timezone identifiers to ISO country codes.
type CountryResolver struct {
	byTimezone map[string]string
}

func NewCountryResolver(tables *refdata.Tables) *CountryResolver {
	r := &CountryResolver{byTimezone: make(map[string]string, len(tables.Countries)*2)}
	for _, c := range tables.Countries {
		for _, tz := range c.Timezones {
			// a zone listed under several countries belongs to the first one
			if _, seen := r.byTimezone[tz]; !seen {
				r.byTimezone[tz] = c.Country
			}
		}
	}
	return r
}

// CountryByTimezone returns nil when timezone is empty or unknown. Matching is exact.
func (r *CountryResolver) CountryByTimezone(timezone string) *string {
	if timezone == "" {
		return nil
	}
	country, ok := r.byTimezone[timezone]
	if !ok {
		return nil
	}
	return &country
}

var defaultCountryResolver = sync.OnceValue(func() *CountryResolver {
	return NewCountryResolver(refdata.Default())
})

// CountryCodeByTimezone resolves timezone against the embedded tables.
func CountryCodeByTimezone(timezone string) *string {
	return defaultCountryResolver().CountryByTimezone(timezone)
}
