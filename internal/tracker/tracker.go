// Package tracker implements the per-device MessageTracker of spec.md §4.1:
// the linearizer between the broker consumer (which may learn about
// deliveries before the device actor asks for them, or vice versa) and the
// device actor (which must process broker deliveries strictly in order, one
// at a time, and may crash mid-message).
package tracker

import (
	"container/list"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// BaseBackoff and RandomBackoff are spec.md §4.2.1's BASE_BACKOFF/RANDOM_BACKOFF.
const (
	BaseBackoff   = 1 * time.Second
	RandomBackoff = 9 * time.Second
)

// Acknowledger is the owning AMQPDataConsumer side of the tracker: it is
// asked to ack, discard (nack without requeue) or requeue a broker delivery
// tag. Injected/Requeued tags never reach it.
type Acknowledger interface {
	Ack(tag uint64) error
	Discard(tag uint64) error
	Requeue(tag uint64) error
}

type state int

const (
	stateNew state = iota
	stateAccepting
	stateWaitingDelivery
	stateWaitingCleanup
)

// waiter is a pending reply for a caller blocked on CanProcessMessage
// (replyProcess) while the tracker hasn't seen the delivery for the
// message at queue head yet, or on RegisterDataUpdater (replyRegister)
// while a previous caller's crash cleanup hasn't completed yet.
type waiter struct {
	replyProcess  chan bool
	replyRegister chan struct{}
	messageID     model.MessageID
}

// Tracker is one MessageTracker instance, scoped to a single device.
type Tracker struct {
	mu    sync.Mutex
	state state
	queue *list.List // of model.MessageID, FIFO; front = head
	ids   map[model.MessageID]model.DeliveryTag

	acknowledger Acknowledger
	logger       *slog.Logger

	waiting *waiter // set while state is WaitingDelivery or WaitingCleanup

	// pendingDone holds the next caller's liveness channel while a
	// previous caller's crash cleanup is still in flight.
	pendingDone <-chan struct{}
}

// New creates a MessageTracker bound to the given acknowledger (the owning
// AMQPDataConsumer/channel).
func New(acknowledger Acknowledger, logger *slog.Logger) *Tracker {
	return &Tracker{
		state:        stateNew,
		queue:        list.New(),
		ids:          make(map[model.MessageID]model.DeliveryTag),
		acknowledger: acknowledger,
		logger:       logger,
	}
}

// RegisterDataUpdater registers the device actor as the tracker's caller,
// monitored via done: when done closes, the tracker treats the actor as
// crashed and runs crash-recovery requeue. If a previous caller's cleanup
// is still running, the returned channel only closes once that cleanup
// finishes and this registration takes over.
func (t *Tracker) RegisterDataUpdater(done <-chan struct{}) <-chan struct{} {
	ready := make(chan struct{})

	t.mu.Lock()
	if t.state == stateNew {
		t.state = stateAccepting
		t.mu.Unlock()
		t.monitor(done)
		close(ready)
		return ready
	}

	t.state = stateWaitingCleanup
	t.waiting = &waiter{replyRegister: ready}
	t.pendingDone = done
	t.mu.Unlock()
	return ready
}

func (t *Tracker) monitor(done <-chan struct{}) {
	go func() {
		<-done
		t.onCallerDown()
	}()
}

// TrackDelivery records that the broker has delivered message mid with the
// given tag. If the tracker's current head-of-queue caller is waiting on
// exactly this message (and the tag is not a stale requeue marker), the
// waiting CanProcessMessage call is unblocked.
func (t *Tracker) TrackDelivery(mid model.MessageID, tag model.DeliveryTag) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, tracked := t.ids[mid]
	if !tracked {
		t.queue.PushBack(mid)
		t.ids[mid] = tag
	} else if existing.IsRequeued() {
		t.ids[mid] = tag
	}

	if t.state == stateWaitingDelivery && t.waiting != nil && t.waiting.messageID == mid {
		head := t.queue.Front()
		if head != nil && head.Value.(model.MessageID) == mid && !t.ids[mid].IsRequeued() {
			t.waiting.replyProcess <- true
			t.waiting = nil
			t.state = stateAccepting
		}
	}
}

// CanProcessMessage reports whether mid is the head of the tracker's queue
// and ready to be processed (i.e. has a concrete, non-requeued delivery
// tag). If mid is the head but its delivery hasn't been tracked yet, or the
// queue is empty, the call blocks until TrackDelivery arrives for it.
func (t *Tracker) CanProcessMessage(ctx context.Context, mid model.MessageID) bool {
	t.mu.Lock()
	if t.state != stateAccepting {
		t.mu.Unlock()
		return false
	}

	head := t.queue.Front()
	if head != nil && head.Value.(model.MessageID) != mid {
		t.mu.Unlock()
		return false
	}

	tag, tracked := t.ids[mid]
	if tracked && !tag.IsRequeued() {
		t.mu.Unlock()
		return true
	}

	reply := make(chan bool, 1)
	t.waiting = &waiter{replyProcess: reply, messageID: mid}
	t.state = stateWaitingDelivery
	t.mu.Unlock()

	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

// AckDelivery acks mid's broker delivery and removes it from the queue. mid
// must be the current head.
func (t *Tracker) AckDelivery(mid model.MessageID) error {
	return t.complete(mid, t.acknowledger.Ack)
}

// Discard nacks mid's broker delivery without requeue and removes it from
// the queue. mid must be the current head.
func (t *Tracker) Discard(mid model.MessageID) error {
	return t.complete(mid, t.acknowledger.Discard)
}

func (t *Tracker) complete(mid model.MessageID, do func(tag uint64) error) error {
	t.mu.Lock()
	if t.state != stateAccepting {
		t.mu.Unlock()
		return nil
	}
	head := t.queue.Front()
	if head == nil || head.Value.(model.MessageID) != mid {
		t.mu.Unlock()
		return nil
	}
	tag := t.ids[mid]
	t.queue.Remove(head)
	delete(t.ids, mid)
	t.mu.Unlock()

	if tag.IsInjected() || tag.IsRequeued() {
		return nil
	}
	brokerTag, ok := tag.BrokerTagValue()
	if !ok {
		return nil
	}
	return do(brokerTag)
}

// onCallerDown runs the crash-recovery path: every tracked message that
// still has a live broker tag is requeued, every entry is marked Requeued,
// and (after the jittered backoff) the tracker either completes a pending
// registration or returns to New, waiting for the next caller.
func (t *Tracker) onCallerDown() {
	t.mu.Lock()
	var toRequeue []uint64
	queueNonEmpty := t.queue.Len() > 0
	for e := t.queue.Front(); e != nil; e = e.Next() {
		mid := e.Value.(model.MessageID)
		tag := t.ids[mid]
		if tag.IsBroker() {
			if brokerTag, ok := tag.BrokerTagValue(); ok {
				toRequeue = append(toRequeue, brokerTag)
			}
		}
		if !tag.IsInjected() {
			t.ids[mid] = tag.Requeued()
		}
	}
	pendingWaiter := t.waiting
	t.waiting = nil
	t.mu.Unlock()

	for _, tag := range toRequeue {
		if err := t.acknowledger.Requeue(tag); err != nil && t.logger != nil {
			t.logger.Error("failed to requeue delivery on crash recovery", slog.Any("error", err), slog.Uint64("tag", tag))
		}
	}

	if queueNonEmpty {
		backoff := BaseBackoff + time.Duration(rand.Int63n(int64(RandomBackoff)))
		time.Sleep(backoff)
	}

	t.mu.Lock()
	if (pendingWaiter == nil || pendingWaiter.replyRegister == nil) && t.waiting != nil && t.waiting.replyRegister != nil {
		pendingWaiter = t.waiting
		t.waiting = nil
	}
	if pendingWaiter != nil && pendingWaiter.replyRegister != nil {
		t.state = stateAccepting
		pendingDone := t.pendingDone
		t.pendingDone = nil
		t.mu.Unlock()
		t.monitor(pendingDone)
		close(pendingWaiter.replyRegister)
		return
	}
	t.state = stateNew
	t.mu.Unlock()
}
