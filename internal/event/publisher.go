package event

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type KafkaProducer interface {
	SendMessage(ctx context.Context, key string, value any) error
}

type publisher struct {
	producer KafkaProducer
	logger   *zap.Logger
}

// NewPublisher forwards hits to a queue. Messages are keyed by beacon id so a load
// and its unload share a partition and stay ordered.
func NewPublisher(producer KafkaProducer, logger *zap.Logger) Store {
	return &publisher{
		producer: producer,
		logger:   logger,
	}
}

func (p *publisher) Persist(ctx context.Context, ev *Event) error {
	if err := p.producer.SendMessage(ctx, ev.BeaconID, Envelope{Kind: KindLoad, Event: ev}); err != nil {
		return fmt.Errorf("failed to publish load: %w", err)
	}
	return nil
}

func (p *publisher) UpdateDuration(ctx context.Context, u *DurationUpdate) error {
	if err := p.producer.SendMessage(ctx, u.BeaconID, Envelope{Kind: KindUnload, Update: u}); err != nil {
		return fmt.Errorf("failed to publish unload: %w", err)
	}
	return nil
}
