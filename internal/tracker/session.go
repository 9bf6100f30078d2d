package tracker

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/event"
)

type NavigationKind int

const (
	NavigationPush NavigationKind = iota
	NavigationReplace
	NavigationPop
	NavigationHash
)

type Navigation struct {
	Kind NavigationKind
	// URL is the target of push and replace navigations. It may be relative.
	URL string
}

// NavigationSource lets the host report client-side navigations. Subscribe returns a
// function that removes the observer.
type NavigationSource interface {
	Subscribe(observe func(Navigation)) (cancel func())
}

// Session is the state of one tracked page: its current beacon, the timing of the view
// and whether the view was already closed.
type Session struct {
	tracker *Tracker
	page    Page

	mu          sync.Mutex
	href        string
	beaconID    string
	start       time.Time
	hiddenSince *time.Time
	inactive    time.Duration
	unloadSent  bool
	stopTimer   func() bool
	cancelNav   func()
	closed      bool
}

func newSession(t *Tracker, page Page) *Session {
	return &Session{
		tracker:  t,
		page:     page,
		href:     page.URL(),
		beaconID: t.newID(),
		start:    t.clock.Now(),
	}
}

func (s *Session) Href() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.href
}

func (s *Session) BeaconID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beaconID
}

// Navigate handles pushState and replaceState. A change of path ends the current view
// and starts a new one; query or fragment changes only move the page.
func (s *Session) Navigate(ctx context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	current, err := url.Parse(s.href)
	if err != nil {
		return fmt.Errorf("failed to parse current url: %w", err)
	}
	next, err := current.Parse(target)
	if err != nil {
		return fmt.Errorf("failed to parse navigation target: %w", err)
	}

	if next.Path == current.Path {
		s.href = next.String()
		return nil
	}

	unloadErr := s.sendUnload(ctx)
	s.reset()
	s.href = next.String()
	if err := s.sendLoad(ctx); err != nil {
		return err
	}
	return unloadErr
}

// PopState handles back and forward navigation. The previous view cannot be closed
// before the history entry changes, so only a new view is started.
func (s *Session) PopState(ctx context.Context, href string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.reset()
	if href != "" {
		s.href = href
	}
	return s.sendLoad(ctx)
}

// HashChange reports a hash navigation in hash mode.
func (s *Session) HashChange(ctx context.Context, href string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if href != "" {
		s.href = href
	}
	return s.sendLoad(ctx)
}

// Hidden starts the inactivity clock. If the page stays hidden for the session timeout
// the view is closed.
func (s *Session) Hidden() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.stop()
	now := s.tracker.clock.Now()
	s.hiddenSince = &now
	s.stopTimer = s.tracker.clock.AfterFunc(s.tracker.cfg.SessionTimeout, s.expire)
}

func (s *Session) Visible() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stop()
	s.settleInactive()
}

// Close ends the view, as on page hide. The unload beacon is sent at most once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.closed = true
	s.stop()
	if s.cancelNav != nil {
		s.cancelNav()
		s.cancelNav = nil
	}
	s.settleInactive()
	return s.sendUnload(ctx)
}

func (s *Session) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimer = nil
	s.settleInactive()
	if err := s.sendUnload(context.Background()); err != nil {
		s.tracker.logger.Warn("failed to send unload after inactivity", zap.Error(err))
	}
}

func (s *Session) observe(nav Navigation) {
	ctx := context.Background()
	var err error

	switch s.tracker.cfg.Mode {
	case ModeHash:
		if nav.Kind == NavigationHash {
			err = s.HashChange(ctx, nav.URL)
		}
	default:
		switch nav.Kind {
		case NavigationPush, NavigationReplace:
			if nav.URL != "" {
				err = s.Navigate(ctx, nav.URL)
			}
		case NavigationPop:
			err = s.PopState(ctx, nav.URL)
		}
	}
	if err != nil {
		s.tracker.logger.Warn("failed to track navigation", zap.Error(err))
	}
}

// reset starts a new view. Only the first view of a tracker can come from a new visitor.
func (s *Session) reset() {
	s.tracker.setUnique(false)
	s.stop()
	s.beaconID = s.tracker.newID()
	s.start = s.tracker.clock.Now()
	s.hiddenSince = nil
	s.inactive = 0
	s.unloadSent = false
}

func (s *Session) stop() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

func (s *Session) settleInactive() {
	if s.hiddenSince == nil {
		return
	}
	s.inactive += s.tracker.clock.Now().Sub(*s.hiddenSince)
	s.hiddenSince = nil
}

func (s *Session) sendLoad(ctx context.Context) error {
	firstVisit, err := s.tracker.transport.Ping(ctx, s.tracker.pingURL(s.href, ""))
	if err != nil {
		s.tracker.logger.Warn("page ping failed", zap.String("url", s.href), zap.Error(err))
	}

	hit := s.tracker.loadHit(s.beaconID, s.href, s.page, firstVisit, event.TypePageview)
	if err := s.tracker.transport.Send(ctx, hit); err != nil {
		return fmt.Errorf("failed to send load beacon: %w", err)
	}
	return nil
}

func (s *Session) sendUnload(ctx context.Context) error {
	if s.unloadSent {
		return nil
	}
	s.unloadSent = true

	elapsed := s.tracker.clock.Now().Sub(s.start) - s.inactive
	hit := event.UnloadHit{
		Kind:       event.KindUnload,
		BeaconID:   s.beaconID,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := s.tracker.transport.Send(ctx, hit); err != nil {
		return fmt.Errorf("failed to send unload beacon: %w", err)
	}
	return nil
}
