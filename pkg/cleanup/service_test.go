package cleanup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScanStore struct {
	deleted    int32
	lastCutoff time.Time
	err        error
}

func (s *stubScanStore) DeleteScansOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.lastCutoff = cutoff
	if s.err != nil {
		return 0, s.err
	}
	return int(atomic.LoadInt32(&s.deleted)), nil
}

type stubBroker struct {
	reclaimed int
	calls     int32
}

func (b *stubBroker) CollectGarbage(time.Time) int {
	atomic.AddInt32(&b.calls, 1)
	return b.reclaimed
}

func TestRunAll_DeletesScansOlderThanRetentionWindow(t *testing.T) {
	store := &stubScanStore{deleted: 3}
	broker := &stubBroker{}
	svc := NewService(Config{ScanRetentionDays: 90, CleanupInterval: time.Hour}, store, broker)

	svc.runAll(context.Background())

	cutoffAge := time.Since(store.lastCutoff)
	assert.InDelta(t, 90*24*time.Hour, cutoffAge, float64(time.Minute))
}

func TestRunAll_CollectsProgressStreamGarbage(t *testing.T) {
	store := &stubScanStore{}
	broker := &stubBroker{reclaimed: 2}
	svc := NewService(Config{ScanRetentionDays: 1, CleanupInterval: time.Hour}, store, broker)

	svc.runAll(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&broker.calls))
}

func TestStartStop_RunsImmediatelyAndStopsCleanly(t *testing.T) {
	store := &stubScanStore{}
	broker := &stubBroker{}
	svc := NewService(Config{ScanRetentionDays: 1, CleanupInterval: time.Hour}, store, broker)

	svc.Start(context.Background())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&broker.calls) >= 1
	}, time.Second, 10*time.Millisecond)

	svc.Stop()
}

func TestNewService_NilBrokerSkipsGarbageCollectionWithoutPanicking(t *testing.T) {
	store := &stubScanStore{}
	svc := NewService(Config{ScanRetentionDays: 1, CleanupInterval: time.Hour}, store, nil)
	assert.NotPanics(t, func() { svc.runAll(context.Background()) })
}
