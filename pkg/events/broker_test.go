package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/models"
)

func TestPublish_AssignsMonotonicSequence(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventStart}))
	require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventPhaseStart}))

	_, ch, catchup := b.Subscribe("s1", 0)
	defer b.Unsubscribe("s1", "")
	require.Len(t, catchup, 2)
	assert.Equal(t, int64(1), catchup[0].Sequence)
	assert.Equal(t, int64(2), catchup[1].Sequence)
	_ = ch
}

func TestSubscribe_CatchupOnlyReturnsEventsAfterLastSeq(t *testing.T) {
	b := NewBroker()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventPhaseStart}))
	}
	_, _, catchup := b.Subscribe("s1", 3)
	require.Len(t, catchup, 2)
	assert.Equal(t, int64(4), catchup[0].Sequence)
}

func TestPublish_DeliversLiveEventsToSubscriber(t *testing.T) {
	b := NewBroker()
	id, ch, _ := b.Subscribe("s1", 0)
	defer b.Unsubscribe("s1", id)

	require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventStart}))

	select {
	case ev := <-ch:
		assert.Equal(t, models.EventStart, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_DropsEventForSlowSubscriberInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	id, _, _ := b.Subscribe("s1", 0)
	defer b.Unsubscribe("s1", id)

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventPhaseStart}))
	}
	assert.Greater(t, b.DroppedCount(), int64(0))
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch, _ := b.Subscribe("s1", 0)
	b.Unsubscribe("s1", id)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCollectGarbage_ReclaimsExpiredTerminalStreams(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventComplete}))

	reclaimed := b.CollectGarbage(time.Now().Add(graceWindow * 2))
	assert.Equal(t, 1, reclaimed)
}

func TestCollectGarbage_KeepsNonTerminalStreams(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Publish(context.Background(), models.ProgressEvent{ScanID: "s1", Kind: models.EventPhaseStart}))

	reclaimed := b.CollectGarbage(time.Now().Add(graceWindow * 2))
	assert.Equal(t, 0, reclaimed)
}
