package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/parkwatch/parkwatch-go/internal/reconcile"
)

// DefaultChannelBufferSize is the per-subscriber event buffer. A subscriber
// that falls further behind than this silently misses events; delivery is
// fire-and-forget with no backpressure on producers.
const DefaultChannelBufferSize = 100

// Subscriber represents one connected observer.
type Subscriber struct {
	ch     chan *Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Broadcaster fans out events to all currently connected observers and keeps
// the bounded activity ring that seeds newly connected observers.
type Broadcaster struct {
	subscribers   []*Subscriber
	subscribersMu sync.RWMutex
	activities    *ActivityRing
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger

	statsMu   sync.RWMutex
	lastStats *reconcile.SystemStats
}

// NewBroadcaster creates a broadcaster with an activity ring of the given
// capacity.
func NewBroadcaster(activityCapacity int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		activities: NewActivityRing(activityCapacity),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With("service", "events"),
	}
}

// Subscribe creates a channel to receive events. The returned context is
// cancelled when the subscription is terminated. Subscribers must not close
// the channel; it is managed by the broadcaster.
func (b *Broadcaster) Subscribe() (<-chan *Event, context.Context) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(b.ctx)
	sub := &Subscriber{
		ch:     make(chan *Event, DefaultChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	b.subscribers = append(b.subscribers, sub)

	b.logger.Debug("observer subscribed", "total_subscribers", len(b.subscribers))
	return sub.ch, ctx
}

// Unsubscribe removes an observer. It cancels the subscriber's context but
// does not close the channel.
func (b *Broadcaster) Unsubscribe(ch <-chan *Event) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			sub.cancel()
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			b.logger.Debug("observer unsubscribed", "remaining_subscribers", len(b.subscribers))
			break
		}
	}
}

// PublishActivity records an activity in the ring and broadcasts it.
func (b *Broadcaster) PublishActivity(activity *Activity) {
	b.activities.Add(activity)
	b.broadcast(&Event{Type: EventActivity, Activity: activity})
}

// PublishStats broadcasts a stats snapshot and remembers it for newly
// connecting observers.
func (b *Broadcaster) PublishStats(stats *reconcile.SystemStats) {
	b.statsMu.Lock()
	b.lastStats = stats
	b.statsMu.Unlock()
	b.broadcast(&Event{Type: EventStats, Stats: stats})
}

// PublishTransaction broadcasts a payment transaction event.
func (b *Broadcaster) PublishTransaction(tx *Transaction) {
	b.broadcast(&Event{Type: EventTransaction, Transaction: tx})
}

// PublishSecurityAlert broadcasts a security alert event.
func (b *Broadcaster) PublishSecurityAlert(alert *SecurityAlertEvent) {
	b.broadcast(&Event{Type: EventSecurityAlert, Alert: alert})
}

// LastStats returns the most recently published stats snapshot, or nil if no
// reconciliation has run yet.
func (b *Broadcaster) LastStats() *reconcile.SystemStats {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()
	if b.lastStats == nil {
		return nil
	}
	stats := *b.lastStats
	return &stats
}

// Activities returns the current contents of the activity ring, oldest first.
func (b *Broadcaster) Activities() []*Activity {
	return b.activities.Snapshot()
}

// broadcastStats tracks broadcast results.
type broadcastStats struct {
	success   int
	failed    int
	cancelled int
}

// broadcast sends an event to all subscribers. Delivery is at-most-once and
// non-blocking: a subscriber with a full channel misses the event but never
// blocks the producer. Cancelled subscribers are pruned as a side effect.
func (b *Broadcaster) broadcast(event *Event) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	active := make([]*Subscriber, 0, len(b.subscribers))
	var stats broadcastStats

	for _, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			stats.cancelled++
			continue
		default:
		}

		active = append(active, sub)
		select {
		case sub.ch <- event:
			stats.success++
		default:
			stats.failed++
			b.logger.Debug("observer channel full, dropping event",
				"event_type", event.Type)
		}
	}

	b.subscribers = active

	if stats.cancelled > 0 {
		b.logger.Debug("pruned cancelled observers",
			"cancelled", stats.cancelled,
			"active", len(active))
	}
}

// Stop cancels all subscriptions and shuts the broadcaster down.
func (b *Broadcaster) Stop() {
	b.cancel()

	b.subscribersMu.Lock()
	count := len(b.subscribers)
	for _, sub := range b.subscribers {
		sub.cancel()
	}
	b.subscribers = nil
	b.subscribersMu.Unlock()

	b.logger.Info("event broadcaster stopped", "subscribers_cancelled", count)
}
