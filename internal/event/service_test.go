package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	mu         sync.Mutex
	persisted  []*Event
	updates    []*DurationUpdate
	persistErr error
	updateErr  error
	pingErr    error
}

func (f *fakeStore) Persist(_ context.Context, ev *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = append(f.persisted, ev)
	return nil
}

func (f *fakeStore) UpdateDuration(_ context.Context, u *DurationUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

const validLoad = `{"e":"load","b":"b1","u":"https://example.com/docs/","p":true,"q":true,"a":"pageview"}`

func TestServiceTrackPersistsLoad(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(newTestNormalizer(), store, zap.NewNop())

	require.NoError(t, svc.Track(context.Background(), NewPayloadRequest([]byte(validLoad), nil)))

	require.Len(t, store.persisted, 1)
	assert.Equal(t, "/docs", store.persisted[0].Path)
	assert.Empty(t, store.updates)
}

func TestServiceTrackUpdatesOnUnload(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(newTestNormalizer(), store, zap.NewNop())

	require.NoError(t, svc.Track(context.Background(), NewPayloadRequest([]byte(`{"e":"unload","b":"b1","m":3000}`), nil)))

	assert.Empty(t, store.persisted)
	require.Len(t, store.updates, 1)
	assert.Equal(t, &DurationUpdate{BeaconID: "b1", DurationMs: 3000}, store.updates[0])
}

func TestServiceTrackDropsRejectedHits(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := &fakeStore{}
	svc := NewService(newTestNormalizer(), store, zap.New(core))

	requests := []Request{
		NewPayloadRequest([]byte(validLoad), map[string]string{"User-Agent": botUA}),
		NewPayloadRequest([]byte(`{"e":"load","b":"x","u":"nope","p":true,"q":true,"a":"pageview"}`), nil),
		NewPayloadRequest([]byte(`{broken`), nil),
		NewPayloadRequest([]byte(`{"e":"scroll"}`), nil),
	}
	for _, req := range requests {
		assert.NoError(t, svc.Track(context.Background(), req))
	}

	assert.Empty(t, store.persisted)
	assert.Empty(t, store.updates)
	assert.Equal(t, 1, logs.FilterMessage("ignoring bot hit").Len())
	assert.Equal(t, 1, logs.FilterMessage("ignoring hit with invalid page url").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to parse hit").Len())
	assert.Equal(t, 1, logs.FilterMessage("unknown event received").Len())
}

func TestServiceTrackStoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	svc := NewService(newTestNormalizer(), &fakeStore{persistErr: storeErr, updateErr: storeErr}, zap.NewNop())

	err := svc.Track(context.Background(), NewPayloadRequest([]byte(validLoad), nil))
	assert.ErrorIs(t, err, storeErr)

	err = svc.Track(context.Background(), NewPayloadRequest([]byte(`{"e":"unload","b":"b1","m":1}`), nil))
	assert.ErrorIs(t, err, storeErr)
}

func TestServiceTrackToleratesDuplicatesAndOrphans(t *testing.T) {
	svc := NewService(newTestNormalizer(), &fakeStore{persistErr: ErrDuplicateEvent, updateErr: ErrEventNotFound}, zap.NewNop())

	assert.NoError(t, svc.Track(context.Background(), NewPayloadRequest([]byte(validLoad), nil)))
	assert.NoError(t, svc.Track(context.Background(), NewPayloadRequest([]byte(`{"e":"unload","b":"b1","m":1}`), nil)))
}

func TestServiceHealthCheck(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(newTestNormalizer(), store, zap.NewNop())

	healthy, status := svc.HealthCheck(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, "ok", status["store"])

	store.pingErr = errors.New("down")
	healthy, status = svc.HealthCheck(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "down", status["store"])
}
