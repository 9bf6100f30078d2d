package enrich

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

type BotDetector interface {
	IsBot(userAgent string) bool
}

// Crawlers, link unfurlers, monitoring probes and HTTP libraries. "bot" must end a word or
// precede a separator so device names containing it stay browsers.
var botPattern = regexp.MustCompile(`(?i)(bot\b|bot[_;-]|crawl|spider|slurp|scrape|fetch|preview|monitor|lighthouse|headless|phantomjs|selenium|puppeteer|playwright|curl/|wget/|python-requests|python-urllib|go-http-client|okhttp|axios/|node-fetch|java/|libwww|httpclient|facebookexternalhit|embedly|whatsapp|pingdom|uptime|statuscake)`)

// Phone models whose names match botPattern.
var botPatternExclusions = regexp.MustCompile(`(?i)cubot`)

type botDetector struct{}

// NewBotDetector combines the useragent library's crawler signal with a keyword list.
func NewBotDetector() BotDetector {
	return botDetector{}
}

func (botDetector) IsBot(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if botPattern.MatchString(botPatternExclusions.ReplaceAllString(s, "")) {
		return true
	}
	return useragent.New(s).Bot()
}
