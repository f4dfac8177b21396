package tracker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

type fakeAcker struct {
	mu       sync.Mutex
	acked    []uint64
	discarded []uint64
	requeued []uint64
}

func (f *fakeAcker) Ack(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcker) Discard(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, tag)
	return nil
}

func (f *fakeAcker) Requeue(tag uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, tag)
	return nil
}

func (f *fakeAcker) snapshot() (acked, discarded, requeued []uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.acked...), append([]uint64(nil), f.discarded...), append([]uint64(nil), f.requeued...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(noopWriter{}, nil))
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCanProcessMessage_OrderingGate(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, testLogger())
	done := make(chan struct{})
	<-tr.RegisterDataUpdater(done)

	tr.TrackDelivery("m1", model.BrokerTag(1))
	tr.TrackDelivery("m2", model.BrokerTag(2))

	ctx := context.Background()
	assert.True(t, tr.CanProcessMessage(ctx, "m1"))
	assert.False(t, tr.CanProcessMessage(ctx, "m2"), "m2 is not head of queue while m1 is unacked")

	require.NoError(t, tr.AckDelivery("m1"))
	assert.True(t, tr.CanProcessMessage(ctx, "m2"))
	require.NoError(t, tr.AckDelivery("m2"))

	acked, _, _ := acker.snapshot()
	assert.Equal(t, []uint64{1, 2}, acked)
}

func TestCanProcessMessage_BlocksUntilDeliveryTracked(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, testLogger())
	done := make(chan struct{})
	<-tr.RegisterDataUpdater(done)

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- tr.CanProcessMessage(context.Background(), "m1")
	}()

	select {
	case <-resultCh:
		t.Fatal("CanProcessMessage returned before delivery was tracked")
	case <-time.After(50 * time.Millisecond):
	}

	tr.TrackDelivery("m1", model.BrokerTag(42))

	select {
	case ok := <-resultCh:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("CanProcessMessage never unblocked after TrackDelivery")
	}
}

func TestOnCallerDown_RequeuesAndRecovers(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, testLogger())
	done := make(chan struct{})
	<-tr.RegisterDataUpdater(done)

	tr.TrackDelivery("m1", model.BrokerTag(10))
	tr.TrackDelivery("m2", model.BrokerTag(11))

	close(done)

	require.Eventually(t, func() bool {
		_, _, requeued := acker.snapshot()
		return len(requeued) == 2
	}, 15*time.Second, 10*time.Millisecond)

	_, _, requeued := acker.snapshot()
	assert.ElementsMatch(t, []uint64{10, 11}, requeued)

	nextDone := make(chan struct{})
	ready := tr.RegisterDataUpdater(nextDone)
	select {
	case <-ready:
	case <-time.After(15 * time.Second):
		t.Fatal("next registration never became ready after crash recovery")
	}
}

func TestInjectedTagNeverReachesAcknowledger(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(acker, testLogger())
	done := make(chan struct{})
	<-tr.RegisterDataUpdater(done)

	tr.TrackDelivery("synthetic", model.InjectedTag(uuid.New()))
	require.True(t, tr.CanProcessMessage(context.Background(), "synthetic"))
	require.NoError(t, tr.AckDelivery("synthetic"))

	acked, discarded, requeued := acker.snapshot()
	assert.Empty(t, acked)
	assert.Empty(t, discarded)
	assert.Empty(t, requeued)
}
