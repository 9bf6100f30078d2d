package event

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/Wuchinator/litetics/internal/enrich"
	"github.com/Wuchinator/litetics/internal/refdata"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the output of a successfully normalized hit. Exactly one of Event and
// Update is set, matching Kind.
type Result struct {
	Kind   string
	Event  *Event
	Update *DurationUpdate
}

// Normalizer turns raw hits into records. It keeps no state between calls and is safe
// for concurrent use.
type Normalizer struct {
	bots      enrich.BotDetector
	agents    enrich.UserAgentParser
	referrers *enrich.ReferrerClassifier
	countries *enrich.CountryResolver
	now       func() time.Time
	newID     func() uuid.UUID
	logger    *zap.Logger
}

type NormalizerOption func(*Normalizer)

// WithTables replaces the embedded reference tables.
func WithTables(tables *refdata.Tables) NormalizerOption {
	return func(n *Normalizer) {
		n.referrers = enrich.NewReferrerClassifier(tables)
		n.countries = enrich.NewCountryResolver(tables)
	}
}

func WithBotDetector(d enrich.BotDetector) NormalizerOption {
	return func(n *Normalizer) { n.bots = d }
}

func WithUserAgentParser(p enrich.UserAgentParser) NormalizerOption {
	return func(n *Normalizer) { n.agents = p }
}

func WithClock(now func() time.Time) NormalizerOption {
	return func(n *Normalizer) { n.now = now }
}

func WithIDGenerator(newID func() uuid.UUID) NormalizerOption {
	return func(n *Normalizer) { n.newID = newID }
}

func NewNormalizer(logger *zap.Logger, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		bots:   enrich.NewBotDetector(),
		agents: enrich.NewUserAgentParser(),
		now:    time.Now,
		newID:  uuid.New,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.referrers == nil || n.countries == nil {
		WithTables(refdata.Default())(n)
	}
	return n
}

// Normalize reads and classifies one hit. Rejected hits return one of ErrBotUserAgent,
// ErrInvalidPayload, ErrInvalidPageURL or ErrUnknownEventKind and produce no record.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*Result, error) {
	acceptLanguage := req.Header("accept-language")
	userAgent := req.Header("user-agent")

	if userAgent != "" && n.bots.IsBot(userAgent) {
		return nil, ErrBotUserAgent
	}

	body, err := req.Body(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	var head struct {
		Kind string `json:"e"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch head.Kind {
	case KindLoad:
		var hit LoadHit
		if err := json.Unmarshal(body, &hit); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		ev, err := n.normalizeLoad(&hit, userAgent, acceptLanguage)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindLoad, Event: ev}, nil

	case KindUnload:
		update, err := decodeUnload(body)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: KindUnload, Update: update}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, head.Kind)
	}
}

func (n *Normalizer) normalizeLoad(hit *LoadHit, userAgent, acceptLanguage string) (*Event, error) {
	page, ok := enrich.ParseURL(hit.URL)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPageURL, hit.URL)
	}

	// a broken referrer only costs the referrer facets
	referrer := hit.Referrer
	if referrer != nil && !enrich.IsValidURL(*referrer) {
		n.logger.Debug("dropping invalid referrer",
			zap.String("bid", hit.BeaconID),
			zap.String("referrer", *referrer))
		referrer = nil
	}

	ev := &Event{
		ID:             n.newID(),
		BeaconID:       hit.BeaconID,
		ReceivedAt:     n.now().UTC(),
		Host:           strings.ToLower(page.Hostname()),
		Path:           pagePath(page),
		QueryString:    optional(page.RawQuery),
		IsUniqueUser:   hit.IsUniqueUser,
		IsUniquePage:   hit.IsUniquePage,
		Type:           hit.Type,
		UserAgent:      optional(userAgent),
		AcceptLanguage: optional(acceptLanguage),
		Additional:     hit.Data,
	}
	if hit.Timezone != nil {
		ev.Timezone = optional(*hit.Timezone)
	}

	if userAgent != "" {
		ua := n.agents.Parse(userAgent)
		ev.BrowserName = ua.BrowserName
		ev.BrowserVersion = ua.BrowserVersion
		ev.BrowserEngineName = ua.BrowserEngineName
		ev.BrowserEngineVersion = ua.BrowserEngineVersion
		ev.DeviceType = ua.DeviceType
		ev.DeviceVendor = ua.DeviceVendor
		ev.DeviceModel = ua.DeviceModel
		ev.CPUArchitecture = ua.CPUArchitecture
		ev.OSName = ua.OSName
		ev.OSVersion = ua.OSVersion
	}

	if referrer != nil {
		n.applyReferrer(ev, *referrer, hit.URL)
	}

	if ev.Timezone != nil {
		ev.Country = n.countries.CountryByTimezone(*ev.Timezone)
	}

	if acceptLanguage != "" {
		langs := enrich.ParseAcceptLanguage(acceptLanguage)
		if len(langs) > 0 {
			ev.LanguageCode = optional(langs[0].Code)
			ev.LanguageScript = langs[0].Script
			ev.LanguageRegion = langs[0].Region
		}
		if len(langs) > 1 {
			ev.SecondaryLanguageCode = optional(langs[1].Code)
			ev.SecondaryLanguageScript = langs[1].Script
			ev.SecondaryLanguageRegion = langs[1].Region
		}
	}

	utm := enrich.ParseUTM(page)
	ev.UTMCampaign = utm.Campaign
	ev.UTMMedium = utm.Medium
	ev.UTMSource = utm.Source

	return ev, nil
}

func (n *Normalizer) applyReferrer(ev *Event, referrer, pageURL string) {
	info, err := n.referrers.Parse(referrer, pageURL)
	if err != nil {
		n.logger.Debug("failed to classify referrer",
			zap.String("bid", ev.BeaconID),
			zap.Error(err))
		return
	}

	known := info.Known
	ev.Referrer = &referrer
	ev.ReferrerHost = &info.Host
	ev.ReferrerPath = &info.Path
	ev.ReferrerQueryString = info.QueryString
	ev.ReferrerKnown = &known
	ev.ReferrerMedium = info.Medium
	ev.ReferrerName = info.Name
	ev.ReferrerSearchParameter = info.SearchParameter
	ev.ReferrerSearchTerm = info.SearchTerm
}

// decodeUnload accepts any JSON number for the duration. Values are rounded to whole
// milliseconds and otherwise passed through unchecked, negative ones included.
func decodeUnload(body []byte) (*DurationUpdate, error) {
	var hit struct {
		BeaconID   string   `json:"b"`
		DurationMs *float64 `json:"m"`
	}
	if err := json.Unmarshal(body, &hit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if hit.DurationMs == nil {
		return nil, fmt.Errorf("%w: unload without duration", ErrInvalidPayload)
	}
	m := math.Round(*hit.DurationMs)
	if m >= math.MaxInt64 || m < math.MinInt64 {
		return nil, fmt.Errorf("%w: duration out of range", ErrInvalidPayload)
	}
	return &DurationUpdate{BeaconID: hit.BeaconID, DurationMs: int64(m)}, nil
}

// pagePath strips one trailing slash, keeping the root path. Opaque URLs use their
// opaque part as the path.
func pagePath(u *url.URL) string {
	p := u.EscapedPath()
	if u.Opaque != "" {
		p = u.Opaque
	}
	if p == "" || p == "/" {
		return "/"
	}
	return strings.TrimSuffix(p, "/")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
