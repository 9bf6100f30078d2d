package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/event"
)

type fakeHits struct {
	updates   []*event.DurationUpdate
	updateErr error
}

func (f *fakeHits) UpdateDuration(_ context.Context, u *event.DurationUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	return nil
}

// fakeRollups commits a hit and its rollup together, like the SQL repository.
type fakeRollups struct {
	stored   map[uuid.UUID]bool
	upserted []*Rollup
	// failures makes the next calls fail before anything is committed.
	failures int
	err      error
}

func (f *fakeRollups) EnsureSchema(context.Context) error { return nil }

func (f *fakeRollups) RecordHit(_ context.Context, ev *event.Event) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	if f.stored[ev.ID] {
		return event.ErrDuplicateEvent
	}
	if f.stored == nil {
		f.stored = make(map[uuid.UUID]bool)
	}
	f.stored[ev.ID] = true
	f.upserted = append(f.upserted, RollupFor(ev))
	return nil
}

func loadEnvelope() []byte {
	data, _ := json.Marshal(event.Envelope{
		Kind: event.KindLoad,
		Event: &event.Event{
			ID:           uuid.New(),
			BeaconID:     "b1",
			ReceivedAt:   hitTime,
			Host:         "example.com",
			Path:         "/",
			IsUniqueUser: true,
			Type:         event.TypePageview,
		},
	})
	return data
}

func TestMessageHandlerLoad(t *testing.T) {
	rollups := &fakeRollups{}
	handle := NewService(&fakeHits{}, rollups, zap.NewNop()).MessageHandler()

	require.NoError(t, handle(context.Background(), []byte("b1"), loadEnvelope()))

	require.Len(t, rollups.upserted, 1)
	r := rollups.upserted[0]
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), r.Date)
	assert.Equal(t, 15, r.Hour)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, int64(1), r.TotalHits)
	assert.Equal(t, int64(1), r.UniqueUsers)
	assert.Equal(t, int64(0), r.UniquePages)
}

func TestMessageHandlerRedeliveredLoad(t *testing.T) {
	rollups := &fakeRollups{}
	handle := NewService(&fakeHits{}, rollups, zap.NewNop()).MessageHandler()
	msg := loadEnvelope()

	require.NoError(t, handle(context.Background(), nil, msg))
	require.NoError(t, handle(context.Background(), nil, msg))
	assert.Len(t, rollups.upserted, 1)
}

func TestMessageHandlerRetryAfterFailureCountsHit(t *testing.T) {
	rollups := &fakeRollups{failures: 1, err: assert.AnError}
	handle := NewService(&fakeHits{}, rollups, zap.NewNop()).MessageHandler()
	msg := loadEnvelope()

	assert.ErrorIs(t, handle(context.Background(), nil, msg), assert.AnError)
	require.NoError(t, handle(context.Background(), nil, msg))
	assert.Len(t, rollups.upserted, 1)
}

func TestMessageHandlerUnload(t *testing.T) {
	hits := &fakeHits{}
	handle := NewService(hits, &fakeRollups{}, zap.NewNop()).MessageHandler()

	require.NoError(t, handle(context.Background(), nil, []byte(`{"kind":"unload","update":{"bid":"b1","durationMs":1200}}`)))
	require.Len(t, hits.updates, 1)
	assert.Equal(t, int64(1200), hits.updates[0].DurationMs)

	hits.updateErr = event.ErrEventNotFound
	assert.NoError(t, handle(context.Background(), nil, []byte(`{"kind":"unload","update":{"bid":"b2","durationMs":1}}`)))
}

func TestMessageHandlerSkipsBadMessages(t *testing.T) {
	hits, rollups := &fakeHits{}, &fakeRollups{}
	handle := NewService(hits, rollups, zap.NewNop()).MessageHandler()

	for _, msg := range []string{`not json`, `{"kind":"load"}`, `{"kind":"unload"}`, `{"kind":"scroll"}`} {
		assert.NoError(t, handle(context.Background(), nil, []byte(msg)), msg)
	}
	assert.Empty(t, hits.updates)
	assert.Empty(t, rollups.upserted)
}

func TestMessageHandlerStoreFailure(t *testing.T) {
	handle := NewService(&fakeHits{}, &fakeRollups{failures: 1, err: assert.AnError}, zap.NewNop()).MessageHandler()
	assert.ErrorIs(t, handle(context.Background(), nil, loadEnvelope()), assert.AnError)

	handle = NewService(&fakeHits{updateErr: assert.AnError}, &fakeRollups{}, zap.NewNop()).MessageHandler()
	assert.ErrorIs(t, handle(context.Background(), nil, []byte(`{"kind":"unload","update":{"bid":"b1","durationMs":1}}`)), assert.AnError)
}
