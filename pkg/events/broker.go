// Package events implements the Progress Channel (spec.md §4.7): a
// per-scan append-only stream of ProgressEvents with a monotonically
// increasing sequence, delivered to subscribers over Server-Sent Events.
//
// Grounded on the teacher's pkg/events/manager.go ConnectionManager:
// the per-channel subscriber-set pattern, the "snapshot under lock then
// send outside it" broadcast discipline, and the catchup-by-last-seen-id
// flow are kept; the websocket transport and Postgres LISTEN/NOTIFY
// fan-out are dropped in favor of plain in-process channels, since the
// Progress Channel's fan-out is single-pod by spec and does not need
// cross-process delivery (spec.md §9: "single process-wide event loop").
package events

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diligence-platform/core/pkg/models"
)

// subscriberBuffer bounds how many unconsumed events a subscriber may
// accumulate before it is considered slow and dropped (spec.md §9:
// "slow subscribers are dropped, never back-pressuring the pipeline").
const subscriberBuffer = 64

// historyLimit bounds how many events a scan's buffer retains for
// catchup. The buffer horizon is the scan lifetime plus a grace window
// (spec.md §4.7); this cap prevents an unbounded-length scan from
// growing its buffer without limit.
const historyLimit = 2000

// graceWindow is how long a scan's stream stays open for catchup after
// its terminal event, before CollectGarbage reclaims it.
const graceWindow = 15 * time.Minute

type subscriber struct {
	id string
	ch chan models.ProgressEvent
}

type scanStream struct {
	mu        sync.Mutex
	seq       int64
	buffer    []models.ProgressEvent
	subs      []*subscriber
	terminal  bool
	terminalAt time.Time
}

// Broker is the Progress Channel's in-process hub. One Broker instance
// per pod; scans are not expected to migrate pods mid-flight.
type Broker struct {
	mu      sync.RWMutex
	streams map[string]*scanStream
	nextSub int64
	dropped int64
}

// NewBroker builds an empty Broker.
func NewBroker() *Broker {
	return &Broker{streams: make(map[string]*scanStream)}
}

func (b *Broker) streamFor(scanID string) *scanStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[scanID]
	if !ok {
		s = &scanStream{}
		b.streams[scanID] = s
	}
	return s
}

// Publish appends ev to scanID's stream (assigning the next sequence
// number) and fans it out to every current subscriber, dropping any
// subscriber whose buffer is full rather than blocking. Implements the
// orchestrator.Publisher interface.
func (b *Broker) Publish(_ context.Context, ev models.ProgressEvent) error {
	s := b.streamFor(ev.ScanID)

	s.mu.Lock()
	s.seq++
	ev.Sequence = s.seq
	s.buffer = append(s.buffer, ev)
	if len(s.buffer) > historyLimit {
		s.buffer = s.buffer[len(s.buffer)-historyLimit:]
	}
	if ev.Kind == models.EventComplete || ev.Kind == models.EventError {
		s.terminal = true
		s.terminalAt = time.Now()
	}
	subs := append([]*subscriber{}, s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddInt64(&b.dropped, 1)
			slog.Warn("progress channel subscriber too slow, dropping event", "scan_id", ev.ScanID, "subscriber", sub.id)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for scanID and returns its
// channel plus any buffered events with Sequence > lastSeq for catchup
// (spec.md §4.7: "a reconnecting subscriber may request events >
// lastSeq"). Call Unsubscribe with the returned id when done.
func (b *Broker) Subscribe(scanID string, lastSeq int64) (id string, ch <-chan models.ProgressEvent, catchup []models.ProgressEvent) {
	s := b.streamFor(scanID)
	subID := atomic.AddInt64(&b.nextSub, 1)

	sub := &subscriber{id: stringifySubID(scanID, subID), ch: make(chan models.ProgressEvent, subscriberBuffer)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	for _, ev := range s.buffer {
		if ev.Sequence > lastSeq {
			catchup = append(catchup, ev)
		}
	}
	return sub.id, sub.ch, catchup
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(scanID, subscriberID string) {
	b.mu.RLock()
	s, ok := b.streams[scanID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == subscriberID {
			close(sub.ch)
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// CollectGarbage reclaims scan streams whose terminal event is older
// than graceWindow, along with any subscribers still attached to them.
func (b *Broker) CollectGarbage(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	reclaimed := 0
	for scanID, s := range b.streams {
		s.mu.Lock()
		expired := s.terminal && now.Sub(s.terminalAt) > graceWindow
		if expired {
			for _, sub := range s.subs {
				close(sub.ch)
			}
		}
		s.mu.Unlock()
		if expired {
			delete(b.streams, scanID)
			reclaimed++
		}
	}
	return reclaimed
}

// DroppedCount returns the cumulative number of events dropped because a
// subscriber's buffer was full. Exposed for health/metrics reporting.
func (b *Broker) DroppedCount() int64 {
	return atomic.LoadInt64(&b.dropped)
}

func stringifySubID(scanID string, n int64) string {
	return scanID + "-sub-" + strconv.FormatInt(n, 10)
}
