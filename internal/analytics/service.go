package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/event"
)

// Service applies queued hits to the SQL store and keeps the hourly rollups current.
type Service struct {
	hits    event.Updater
	rollups Repository
	logger  *zap.Logger
}

func NewService(hits event.Updater, rollups Repository, logger *zap.Logger) *Service {
	return &Service{
		hits:    hits,
		rollups: rollups,
		logger:  logger,
	}
}

func (s *Service) Process(ctx context.Context, env *event.Envelope) error {
	switch env.Kind {
	case event.KindLoad:
		if env.Event == nil {
			return fmt.Errorf("%w: load without event", event.ErrInvalidPayload)
		}
		return s.processLoad(ctx, env.Event)
	case event.KindUnload:
		if env.Update == nil {
			return fmt.Errorf("%w: unload without update", event.ErrInvalidPayload)
		}
		return s.processUnload(ctx, env.Update)
	}
	return fmt.Errorf("%w: %q", event.ErrUnknownEventKind, env.Kind)
}

func (s *Service) processLoad(ctx context.Context, ev *event.Event) error {
	if err := s.rollups.RecordHit(ctx, ev); err != nil {
		if errors.Is(err, event.ErrDuplicateEvent) {
			// хит и rollup записаны одной транзакцией, повтор ничего не меняет
			s.logger.Debug("Hit redelivered", zap.String("id", ev.ID.String()))
			return nil
		}
		return fmt.Errorf("failed to record hit: %w", err)
	}

	s.logger.Debug("Hit processed",
		zap.String("id", ev.ID.String()),
		zap.String("host", ev.Host),
		zap.String("type", ev.Type),
	)
	return nil
}

func (s *Service) processUnload(ctx context.Context, u *event.DurationUpdate) error {
	if err := s.hits.UpdateDuration(ctx, u); err != nil {
		if errors.Is(err, event.ErrEventNotFound) {
			s.logger.Warn("No hit to complete", zap.String("bid", u.BeaconID))
			return nil
		}
		return fmt.Errorf("failed to update hit duration: %w", err)
	}
	return nil
}

// MessageHandler создаёт handler для Kafka consumer. Сообщения, которые нельзя
// разобрать, пропускаются.
func (s *Service) MessageHandler() func(ctx context.Context, key, value []byte) error {
	return func(ctx context.Context, key, value []byte) error {
		var env event.Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			s.logger.Error("Failed to unmarshal envelope",
				zap.Error(err),
				zap.String("key", string(key)),
			)
			return nil
		}

		if err := s.Process(ctx, &env); err != nil {
			if errors.Is(err, event.ErrInvalidPayload) || errors.Is(err, event.ErrUnknownEventKind) {
				s.logger.Error("Skipping envelope", zap.Error(err), zap.String("key", string(key)))
				return nil
			}
			return err
		}
		return nil
	}
}
