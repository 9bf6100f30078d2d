package event

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Persister interface {
	Persist(ctx context.Context, event *Event) error
}

type Updater interface {
	UpdateDuration(ctx context.Context, update *DurationUpdate) error
}

// Store receives both halves of a page view.
type Store interface {
	Persister
	Updater
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	normalizer *Normalizer
	store      Store
	logger     *zap.Logger
}

func NewService(normalizer *Normalizer, store Store, logger *zap.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		store:      store,
		logger:     logger,
	}
}

// Track normalizes one hit and hands it to the store. Rejected hits are logged and
// dropped without an error; only store failures are returned.
func (s *Service) Track(ctx context.Context, req Request) error {
	res, err := s.normalizer.Normalize(ctx, req)
	if err != nil {
		s.logRejected(err)
		return nil
	}

	switch res.Kind {
	case KindLoad:
		return s.persist(ctx, res.Event)
	case KindUnload:
		return s.update(ctx, res.Update)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, ev *Event) error {
	if err := s.store.Persist(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.logger.Debug("hit is already stored", zap.String("id", ev.ID.String()))
			return nil
		}
		s.logger.Error("failed to persist hit",
			zap.Error(err),
			zap.String("bid", ev.BeaconID))
		return fmt.Errorf("failed to persist hit: %w", err)
	}

	s.logger.Debug("hit tracked",
		zap.String("bid", ev.BeaconID),
		zap.String("host", ev.Host),
		zap.String("path", ev.Path),
		zap.String("type", ev.Type),
	)
	return nil
}

func (s *Service) update(ctx context.Context, u *DurationUpdate) error {
	if err := s.store.UpdateDuration(ctx, u); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			// the load fell out of the correlation window or never arrived
			s.logger.Warn("no hit to complete", zap.String("bid", u.BeaconID))
			return nil
		}
		s.logger.Error("failed to update hit duration",
			zap.Error(err),
			zap.String("bid", u.BeaconID))
		return fmt.Errorf("failed to update hit duration: %w", err)
	}

	s.logger.Debug("hit duration recorded",
		zap.String("bid", u.BeaconID),
		zap.Int64("duration_ms", u.DurationMs))
	return nil
}

func (s *Service) logRejected(err error) {
	switch {
	case errors.Is(err, ErrBotUserAgent):
		s.logger.Debug("ignoring bot hit")
	case errors.Is(err, ErrUnknownEventKind):
		s.logger.Debug("unknown event received", zap.Error(err))
	case errors.Is(err, ErrInvalidPageURL):
		s.logger.Debug("ignoring hit with invalid page url", zap.Error(err))
	default:
		s.logger.Error("failed to parse hit", zap.Error(err))
	}
}

func (s *Service) HealthCheck(ctx context.Context) (bool, map[string]string) {
	status := map[string]string{"store": "ok"}

	pinger, ok := s.store.(Pinger)
	if !ok {
		return true, status
	}
	if err := pinger.Ping(ctx); err != nil {
		status["store"] = err.Error()
		return false, status
	}
	return true, status
}
