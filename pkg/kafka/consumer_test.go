package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksEveryMessage(t *testing.T) {
	var keys []string
	handler := func(_ context.Context, key, _ []byte) error {
		keys = append(keys, string(key))
		if string(key) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	}
	c := NewConsumerWith(nil, []string{"hits"}, handler, zap.NewNop())

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Key: []byte("a"), Offset: 1}
	claim.messages <- &sarama.ConsumerMessage{Key: []byte("bad"), Offset: 2}
	claim.messages <- &sarama.ConsumerMessage{Key: []byte("b"), Offset: 3}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))

	assert.Equal(t, []string{"a", "bad", "b"}, keys)
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
}

func TestConsumeClaimStopsOnSessionEnd(t *testing.T) {
	c := NewConsumerWith(nil, nil, func(context.Context, []byte, []byte) error { return nil }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, c.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}

func TestSetupSignalsReadyOnce(t *testing.T) {
	c := NewConsumerWith(nil, nil, nil, zap.NewNop())

	require.NoError(t, c.Setup(nil))
	require.NoError(t, c.Setup(nil))

	select {
	case <-c.Ready():
	default:
		t.Fatal("consumer is not ready after setup")
	}
}

func TestConsumeClaimRetriesHandler(t *testing.T) {
	calls := 0
	handler := func(context.Context, []byte, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("database unavailable")
		}
		return nil
	}
	c := NewConsumerWith(nil, nil, handler, zap.NewNop(), WithRetry(3, time.Millisecond))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Key: []byte("a"), Offset: 7}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claim))

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, session.marked)
}

func TestConsumeClaimLeavesMessageUnmarkedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(context.Context, []byte, []byte) error {
		cancel()
		return errors.New("database unavailable")
	}
	c := NewConsumerWith(nil, nil, handler, zap.NewNop(), WithRetry(5, time.Hour))

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Key: []byte("a"), Offset: 7}

	session := &fakeSession{ctx: ctx}
	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked)
}

func TestConsumerConfig(t *testing.T) {
	cfg, err := consumerConfig(ConsumerConfig{RebalanceStrategy: "sticky", SessionTimeout: 9 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Consumer.Group.Heartbeat.Interval)
	require.Len(t, cfg.Consumer.Group.Rebalance.GroupStrategies, 1)
	assert.Equal(t, sarama.StickyBalanceStrategyName, cfg.Consumer.Group.Rebalance.GroupStrategies[0].Name())

	_, err = consumerConfig(ConsumerConfig{RebalanceStrategy: "random"})
	assert.Error(t, err)
}
