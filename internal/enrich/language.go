package enrich

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	languageCodePattern   = regexp.MustCompile(`^[A-Za-z]{2,3}$`)
	languageRegionPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	languageScriptPattern = regexp.MustCompile(`^[A-Za-z]{4}$`)
)

// Language is one entry of an Accept-Language header.
type Language struct {
	Code    string  `json:"code"`
	Script  *string `json:"script"`
	Region  *string `json:"region"`
	Quality float64 `json:"quality"`
}

// ParseAcceptLanguage returns the valid language ranges of header ordered by quality,
// highest first. Entries with equal quality keep their header order. Malformed ranges
// are left out.
func ParseAcceptLanguage(header string) []Language {
	if strings.TrimSpace(header) == "" {
		return []Language{}
	}

	languages := make([]Language, 0, 4)
	for _, entry := range strings.Split(header, ",") {
		lang, ok := parseLanguageRange(strings.TrimSpace(entry))
		if ok {
			languages = append(languages, lang)
		}
	}

	sort.SliceStable(languages, func(i, j int) bool {
		return languages[i].Quality > languages[j].Quality
	})
	return languages
}

func parseLanguageRange(entry string) (Language, bool) {
	parts := strings.Split(entry, ";")
	lang := Language{Quality: 1}

	for _, param := range parts[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || strings.TrimSpace(key) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Language{}, false
		}
		lang.Quality = q
	}

	segments := strings.Split(strings.TrimSpace(parts[0]), "-")
	lang.Code = segments[0]
	switch len(segments) {
	case 1:
	case 2:
		if len(segments[1]) == 4 {
			lang.Script = &segments[1]
		} else {
			lang.Region = &segments[1]
		}
	case 3:
		lang.Script = &segments[1]
		lang.Region = &segments[2]
	default:
		return Language{}, false
	}

	if lang.Code != "*" && !languageCodePattern.MatchString(lang.Code) {
		return Language{}, false
	}
	if lang.Region != nil && !languageRegionPattern.MatchString(*lang.Region) {
		return Language{}, false
	}
	if lang.Script != nil && !languageScriptPattern.MatchString(*lang.Script) {
		return Language{}, false
	}
	return lang, true
}
