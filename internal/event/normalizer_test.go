package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wuchinator/litetics/internal/enrich"
	"github.com/Wuchinator/litetics/internal/refdata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	botUA     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

var (
	fixedNow = time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	fixedID  = uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
)

type stubAgents struct{}

func (stubAgents) Parse(string) enrich.UserAgent {
	name, version, os := "Chrome", "91.0", "Windows"
	return enrich.UserAgent{BrowserName: &name, BrowserVersion: &version, OSName: &os}
}

type stubBots struct{ bot string }

func (s stubBots) IsBot(ua string) bool { return ua == s.bot }

// bodyless fails the test when the normalizer reads the body.
type bodyless struct {
	t       *testing.T
	headers map[string]string
}

func (b bodyless) Body(context.Context) ([]byte, error) {
	b.t.Fatal("body must not be read")
	return nil, nil
}

func (b bodyless) Header(name string) string { return b.headers[name] }

func newTestNormalizer(opts ...NormalizerOption) *Normalizer {
	base := []NormalizerOption{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() uuid.UUID { return fixedID }),
		WithUserAgentParser(stubAgents{}),
		WithBotDetector(stubBots{bot: botUA}),
	}
	return NewNormalizer(zap.NewNop(), append(base, opts...)...)
}

func load(t *testing.T, n *Normalizer, body string, headers map[string]string) *Event {
	t.Helper()
	res, err := n.Normalize(context.Background(), NewPayloadRequest([]byte(body), headers))
	require.NoError(t, err)
	require.Equal(t, KindLoad, res.Kind)
	require.NotNil(t, res.Event)
	require.Nil(t, res.Update)
	return res.Event
}

func TestNormalizeLoad(t *testing.T) {
	n := newTestNormalizer()
	body := `{"e":"load","b":"abc123","u":"https://Example.com/blog/post/?utm_source=news&utm_medium=email&ref=1",
		"p":true,"q":false,"a":"pageview","r":"https://www.google.com/search?q=go+analytics","t":"Europe/London",
		"d":{"plan":"pro","seats":3,"trial":false,"coupon":null}}`

	ev := load(t, n, body, map[string]string{
		"User-Agent":      browserUA,
		"Accept-Language": "en-US,fr-CA;q=0.9,de;q=0.8",
	})

	assert.Equal(t, fixedID, ev.ID)
	assert.Equal(t, "abc123", ev.BeaconID)
	assert.Equal(t, fixedNow, ev.ReceivedAt)
	assert.Equal(t, "example.com", ev.Host)
	assert.Equal(t, "/blog/post", ev.Path)
	assert.Equal(t, "utm_source=news&utm_medium=email&ref=1", *ev.QueryString)
	assert.True(t, ev.IsUniqueUser)
	assert.False(t, ev.IsUniquePage)
	assert.Equal(t, TypePageview, ev.Type)
	assert.Nil(t, ev.DurationMs)

	assert.Equal(t, "Europe/London", *ev.Timezone)
	assert.Equal(t, "GB", *ev.Country)

	assert.Equal(t, browserUA, *ev.UserAgent)
	assert.Equal(t, "Chrome", *ev.BrowserName)
	assert.Equal(t, "Windows", *ev.OSName)
	assert.Nil(t, ev.DeviceType)

	assert.Equal(t, "https://www.google.com/search?q=go+analytics", *ev.Referrer)
	assert.Equal(t, "www.google.com", *ev.ReferrerHost)
	assert.Equal(t, "/search", *ev.ReferrerPath)
	assert.Equal(t, "q=go+analytics", *ev.ReferrerQueryString)
	assert.True(t, *ev.ReferrerKnown)
	assert.Equal(t, "search", *ev.ReferrerMedium)
	assert.Equal(t, "Google", *ev.ReferrerName)
	assert.Equal(t, "q", *ev.ReferrerSearchParameter)
	assert.Equal(t, "go analytics", *ev.ReferrerSearchTerm)

	assert.Equal(t, "en-US,fr-CA;q=0.9,de;q=0.8", *ev.AcceptLanguage)
	assert.Equal(t, "en", *ev.LanguageCode)
	assert.Equal(t, "US", *ev.LanguageRegion)
	assert.Nil(t, ev.LanguageScript)
	assert.Equal(t, "fr", *ev.SecondaryLanguageCode)
	assert.Equal(t, "CA", *ev.SecondaryLanguageRegion)

	assert.Equal(t, "news", *ev.UTMSource)
	assert.Equal(t, "email", *ev.UTMMedium)
	assert.Nil(t, ev.UTMCampaign)

	assert.Equal(t, Additional{"plan": "pro", "seats": float64(3), "trial": false, "coupon": nil}, ev.Additional)
}

func TestNormalizeLoadPaths(t *testing.T) {
	n := newTestNormalizer()
	tests := map[string]string{
		"https://example.com/path/":  "/path",
		"https://example.com/path":   "/path",
		"https://example.com/":       "/",
		"https://example.com":        "/",
		"https://example.com/a/b//":  "/a/b/",
		"http://localhost:8080/app/": "/app",
	}
	for pageURL, want := range tests {
		ev := load(t, n, `{"e":"load","b":"x","u":"`+pageURL+`","p":false,"q":false,"a":"pageview"}`, nil)
		assert.Equal(t, want, ev.Path, pageURL)
		assert.Nil(t, ev.QueryString, pageURL)
	}
}

func TestNormalizeLoadWithoutOptionalInput(t *testing.T) {
	n := newTestNormalizer()
	ev := load(t, n, `{"e":"load","b":"x","u":"https://example.com/","p":false,"q":true,"a":"signup","t":""}`, nil)

	assert.Equal(t, "signup", ev.Type)
	assert.Nil(t, ev.Timezone)
	assert.Nil(t, ev.Country)
	assert.Nil(t, ev.UserAgent)
	assert.Nil(t, ev.BrowserName)
	assert.Nil(t, ev.AcceptLanguage)
	assert.Nil(t, ev.LanguageCode)
	assert.Nil(t, ev.SecondaryLanguageCode)
	assert.Nil(t, ev.Referrer)
	assert.Nil(t, ev.ReferrerKnown, "no referrer sent")
	assert.Nil(t, ev.ReferrerMedium)
	assert.Nil(t, ev.Additional)
}

func TestNormalizeLoadInvalidReferrerIsDropped(t *testing.T) {
	n := newTestNormalizer()
	ev := load(t, n, `{"e":"load","b":"x","u":"https://example.com/a","p":true,"q":true,"a":"pageview","r":"not a url"}`, nil)

	assert.Equal(t, "/a", ev.Path)
	assert.Nil(t, ev.Referrer)
	assert.Nil(t, ev.ReferrerHost)
	assert.Nil(t, ev.ReferrerPath)
	assert.Nil(t, ev.ReferrerKnown)
	assert.Nil(t, ev.ReferrerMedium)
	assert.Nil(t, ev.ReferrerName)
}

func TestNormalizeLoadReferrerClassification(t *testing.T) {
	n := newTestNormalizer()

	ev := load(t, n, `{"e":"load","b":"x","u":"https://example.com/b","p":true,"q":true,"a":"pageview","r":"https://example.com/a"}`, nil)
	assert.True(t, *ev.ReferrerKnown)
	assert.Equal(t, "internal", *ev.ReferrerMedium)

	ev = load(t, n, `{"e":"load","b":"x","u":"https://example.com/b","p":true,"q":true,"a":"pageview","r":"https://unknown.example/x?y=1"}`, nil)
	require.NotNil(t, ev.ReferrerKnown)
	assert.False(t, *ev.ReferrerKnown)
	assert.Nil(t, ev.ReferrerMedium)
	assert.Equal(t, "unknown.example", *ev.ReferrerHost)
	assert.Equal(t, "y=1", *ev.ReferrerQueryString)
}

func TestNormalizeLoadCustomTables(t *testing.T) {
	tables := &refdata.Tables{
		Referrers: []refdata.Medium{{Medium: "social", Sources: []refdata.Source{{Name: "Intranet", Domains: []string{"intra.example"}}}}},
		Countries: []refdata.CountryTimezones{{Country: "ZZ", Timezones: []string{"Europe/London"}}},
	}
	n := newTestNormalizer(WithTables(tables))

	ev := load(t, n, `{"e":"load","b":"x","u":"https://example.com/","p":true,"q":true,"a":"pageview","r":"https://intra.example/","t":"Europe/London"}`, nil)
	assert.Equal(t, "Intranet", *ev.ReferrerName)
	assert.Equal(t, "ZZ", *ev.Country)
}

func TestNormalizeUnload(t *testing.T) {
	n := newTestNormalizer()
	tests := []struct {
		body string
		want int64
	}{
		{body: `{"e":"unload","b":"abc","m":15234}`, want: 15234},
		{body: `{"e":"unload","b":"abc","m":-40}`, want: -40},
		{body: `{"e":"unload","b":"abc","m":99.6}`, want: 100},
	}
	for _, tt := range tests {
		res, err := n.Normalize(context.Background(), NewPayloadRequest([]byte(tt.body), nil))
		require.NoError(t, err, tt.body)
		assert.Equal(t, KindUnload, res.Kind)
		assert.Nil(t, res.Event)
		assert.Equal(t, &DurationUpdate{BeaconID: "abc", DurationMs: tt.want}, res.Update)
	}
}

func TestNormalizeRejections(t *testing.T) {
	n := newTestNormalizer()
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "not json", body: `{"e":"load",`, want: ErrInvalidPayload},
		{name: "empty body", body: ``, want: ErrInvalidPayload},
		{name: "not an object", body: `"load"`, want: ErrInvalidPayload},
		{name: "wrong field type", body: `{"e":"load","b":"x","u":"https://example.com","p":"yes"}`, want: ErrInvalidPayload},
		{name: "unload without duration", body: `{"e":"unload","b":"x"}`, want: ErrInvalidPayload},
		{name: "unload duration not a number", body: `{"e":"unload","b":"x","m":"10"}`, want: ErrInvalidPayload},
		{name: "missing page url", body: `{"e":"load","b":"x","p":true,"q":true,"a":"pageview"}`, want: ErrInvalidPageURL},
		{name: "invalid page url", body: `{"e":"load","b":"x","u":"not-a-url","p":true,"q":true,"a":"pageview"}`, want: ErrInvalidPageURL},
		{name: "unknown kind", body: `{"e":"click","b":"x"}`, want: ErrUnknownEventKind},
		{name: "no kind", body: `{}`, want: ErrUnknownEventKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(context.Background(), NewPayloadRequest([]byte(tt.body), nil))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func TestNormalizeBotShortCircuits(t *testing.T) {
	n := newTestNormalizer()
	res, err := n.Normalize(context.Background(), bodyless{t: t, headers: map[string]string{"user-agent": botUA}})
	assert.ErrorIs(t, err, ErrBotUserAgent)
	assert.Nil(t, res)
}

func TestNormalizeDefaultBotDetector(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	res, err := n.Normalize(context.Background(), bodyless{t: t, headers: map[string]string{"user-agent": "curl/8.4.0"}})
	assert.ErrorIs(t, err, ErrBotUserAgent)
	assert.Nil(t, res)
}

type failingBody struct{ err error }

func (f failingBody) Body(context.Context) ([]byte, error) { return nil, f.err }
func (f failingBody) Header(string) string                 { return "" }

func TestNormalizeBodyReadFailure(t *testing.T) {
	n := newTestNormalizer()
	readErr := errors.New("connection reset")
	_, err := n.Normalize(context.Background(), failingBody{err: readErr})
	assert.ErrorIs(t, err, readErr)
}

func TestNormalizeLoadURLsWithoutAuthoritySlashes(t *testing.T) {
	n := newTestNormalizer()

	ev := load(t, n, `{"e":"load","b":"x","u":"http:example.com/docs/","p":true,"q":true,"a":"pageview"}`, nil)
	assert.Equal(t, "example.com", ev.Host)
	assert.Equal(t, "/docs", ev.Path)

	ev = load(t, n, `{"e":"load","b":"x","u":"mailto:someone@example.com","p":true,"q":true,"a":"pageview"}`, nil)
	assert.Equal(t, "", ev.Host)
	assert.Equal(t, "someone@example.com", ev.Path)
}
