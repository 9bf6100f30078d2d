package enrich

import "net/url"

// UTM holds the campaign parameters of a page URL.
type UTM struct {
	Source   *string `json:"source"`
	Medium   *string `json:"medium"`
	Campaign *string `json:"campaign"`
}

// ParseUTM reads utm_source, utm_medium and utm_campaign verbatim. Only the first
// occurrence of a parameter counts.
func ParseUTM(u *url.URL) UTM {
	q := u.Query()
	return UTM{
		Source:   firstValue(q, "utm_source"),
		Medium:   firstValue(q, "utm_medium"),
		Campaign: firstValue(q, "utm_campaign"),
	}
}

func firstValue(q url.Values, key string) *string {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		return nil
	}
	return &values[0]
}
