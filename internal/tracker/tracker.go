package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/enrich"
	"github.com/Wuchinator/litetics/internal/event"
	"github.com/Wuchinator/litetics/pkg/httpretry"
)

type Mode string

const (
	ModeHistory Mode = "history"
	ModeHash    Mode = "hash"
)

const DefaultSessionTimeout = 5 * time.Minute

var (
	ErrInvalidTrackURL = errors.New("track url must be a valid URL")
	ErrInvalidPingURL  = errors.New("ping url must be a valid URL")
	ErrInvalidMode     = errors.New("unknown tracking mode")
	ErrNotRegistered   = errors.New("no page registered")
)

type Config struct {
	TrackURL       string
	PingURL        string
	Mode           Mode
	SessionTimeout time.Duration
}

// Page exposes the host environment of a tracked page.
type Page interface {
	URL() string
	Referrer() string
	Timezone() string
}

// StaticPage is a Page with fixed values.
type StaticPage struct {
	Href         string
	ReferrerURL  string
	TimezoneName string
}

func (p StaticPage) URL() string      { return p.Href }
func (p StaticPage) Referrer() string { return p.ReferrerURL }
func (p StaticPage) Timezone() string { return p.TimezoneName }

type timedEvent struct {
	id    string
	start time.Time
}

// Tracker sends page view and custom event beacons for registered pages.
type Tracker struct {
	cfg       Config
	transport Transport
	clock     Clock
	newID     func() string
	logger    *zap.Logger

	mu        sync.Mutex
	isUnique  bool
	current   *Session
	durations map[string]timedEvent
}

type Option func(*Tracker)

func WithTransport(t Transport) Option {
	return func(tr *Tracker) {
		tr.transport = t
	}
}

func WithClock(c Clock) Option {
	return func(tr *Tracker) {
		tr.clock = c
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(tr *Tracker) {
		tr.newID = newID
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(tr *Tracker) {
		tr.logger = logger
	}
}

func New(cfg Config, opts ...Option) (*Tracker, error) {
	if !enrich.IsValidURL(cfg.TrackURL) {
		return nil, ErrInvalidTrackURL
	}
	if !enrich.IsValidURL(cfg.PingURL) {
		return nil, ErrInvalidPingURL
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeHistory
	case ModeHistory, ModeHash:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}

	t := &Tracker{
		cfg:       cfg,
		clock:     realClock{},
		newID:     NewBeaconID,
		logger:    zap.NewNop(),
		isUnique:  true,
		durations: make(map[string]timedEvent),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.transport == nil {
		t.transport = NewHTTPTransport(cfg.TrackURL, httpretry.New(t.logger), t.clock.Now, t.logger)
	}
	return t, nil
}

// NewBeaconID returns a random UUID without dashes.
func NewBeaconID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register starts tracking page. It probes the bare ping URL for visitor uniqueness and
// sends the first load beacon. A nil nav leaves navigation to the Session methods.
func (t *Tracker) Register(ctx context.Context, page Page, nav NavigationSource) (*Session, error) {
	s := newSession(t, page)

	unique, err := t.transport.Ping(ctx, t.cfg.PingURL)
	if err != nil {
		t.logger.Warn("visitor ping failed", zap.Error(err))
	} else {
		t.setUnique(unique)
	}

	s.mu.Lock()
	err = s.sendLoad(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.current = s
	t.mu.Unlock()

	if nav != nil {
		s.cancelNav = nav.Subscribe(s.observe)
	}
	return s, nil
}

// Track sends a custom event for the current page of the last registered session. With
// withDuration the event stays open until TrackEndOf is called with the same key.
func (t *Tracker) Track(ctx context.Context, key, eventType string, data map[string]any, withDuration bool) error {
	t.mu.Lock()
	s := t.current
	t.mu.Unlock()
	if s == nil {
		return ErrNotRegistered
	}

	href := s.Href()
	firstVisit, err := t.transport.Ping(ctx, t.pingURL(href, key))
	if err != nil {
		t.logger.Warn("event ping failed", zap.String("key", key), zap.Error(err))
	}

	id := t.newID()
	if withDuration {
		t.mu.Lock()
		t.durations[key] = timedEvent{id: id, start: t.clock.Now()}
		t.mu.Unlock()
	}

	hit := t.loadHit(id, href, s.page, firstVisit, eventType)
	hit.Data = data
	if err := t.transport.Send(ctx, hit); err != nil {
		return fmt.Errorf("failed to send event %q: %w", key, err)
	}
	return nil
}

// TrackEndOf closes the event opened by Track with withDuration. Unknown keys are ignored.
func (t *Tracker) TrackEndOf(ctx context.Context, key string) error {
	t.mu.Lock()
	timed, ok := t.durations[key]
	t.mu.Unlock()
	if !ok {
		return nil
	}

	hit := event.UnloadHit{
		Kind:       event.KindUnload,
		BeaconID:   timed.id,
		DurationMs: t.clock.Now().Sub(timed.start).Milliseconds(),
	}
	if err := t.transport.Send(ctx, hit); err != nil {
		return fmt.Errorf("failed to send end of %q: %w", key, err)
	}

	t.mu.Lock()
	if t.durations[key] == timed {
		delete(t.durations, key)
	}
	t.mu.Unlock()
	return nil
}

func (t *Tracker) unique() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isUnique
}

func (t *Tracker) setUnique(v bool) {
	t.mu.Lock()
	t.isUnique = v
	t.mu.Unlock()
}

// pingURL builds the per-page probe. The u parameter is host and path only so that
// every page gets its own cache entry.
func (t *Tracker) pingURL(href, key string) string {
	u, err := url.Parse(t.cfg.PingURL)
	if err != nil {
		return t.cfg.PingURL
	}
	q := u.Query()
	if page, err := url.Parse(href); err == nil {
		q.Set("u", page.Host+page.EscapedPath())
	}
	if key != "" {
		q.Set("k", key)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *Tracker) loadHit(id, href string, page Page, firstVisit bool, eventType string) event.LoadHit {
	return event.LoadHit{
		Kind:         event.KindLoad,
		BeaconID:     id,
		URL:          href,
		IsUniqueUser: t.unique(),
		IsUniquePage: firstVisit,
		Type:         eventType,
		Referrer:     nonEmpty(page.Referrer()),
		Timezone:     nonEmpty(page.Timezone()),
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
