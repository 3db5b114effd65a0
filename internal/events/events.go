// Package events implements the typed event fan-out between the monitoring
// core and its subscribers. Delivery is best-effort: a subscriber that cannot
// keep up is evicted rather than allowed to stall publishers.
package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event types emitted by the monitoring core.
const (
	TypeMonitoringUpdate  = "monitoring_update"
	TypeAlertCreated      = "alert_created"
	TypeAlertAcknowledged = "alert_acknowledged"
	TypeAlertResolved     = "alert_resolved"
	TypeAlertDeleted      = "alert_deleted"
	TypeScanStarted       = "scan_started"
	TypeScanProgress      = "scan_progress"
	TypeHostDiscovered    = "host_discovered"
	TypeScanCompleted     = "scan_completed"
	TypeScanStopped       = "scan_stopped"
	TypeScanError         = "scan_error"
	TypeHostOnline        = "host_online"
	TypeHostOffline       = "host_offline"
	TypeError             = "error"
)

var (
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by type.",
		},
		[]string{"type"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "laninsight",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped because a subscriber was not ready.",
		},
	)
	subscriberCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "laninsight",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Number of currently registered event subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsPublished, eventsDropped, subscriberCount)
}

// Event is the envelope delivered to every subscriber.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Subscriber is one registered push handle. Events arrive on the channel
// returned by Events; the channel is closed when the subscriber is evicted,
// unsubscribed, or the broadcaster shuts down.
type Subscriber struct {
	ch     chan Event
	closed bool // guarded by the broadcaster's mutex
}

// Events returns the subscriber's receive channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broadcaster fans typed events out to all current subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[*Subscriber]struct{}),
	}
}

// DefaultSubscriberBuffer is the per-subscriber queue length used when the
// caller does not size it explicitly.
const DefaultSubscriberBuffer = 64

// Subscribe registers a new subscriber with the given channel buffer. A
// buffer of zero or less uses DefaultSubscriberBuffer.
func (b *Broadcaster) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	subscriberCount.Set(float64(len(b.subs)))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Broadcaster) dropLocked(sub *Subscriber) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	subscriberCount.Set(float64(len(b.subs)))
}

// Publish delivers an event to every subscriber. Subscribers whose queue is
// full are evicted immediately; publishing never blocks.
func (b *Broadcaster) Publish(eventType string, data any) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	eventsPublished.WithLabelValues(eventType).Inc()

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			eventsDropped.Inc()
			b.dropLocked(sub)
		}
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close evicts all subscribers and rejects further publishes and
// subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	subscriberCount.Set(0)
}
