package events

import (
	"log"
	"sync"
	"time"
)

// EventType classifies pipeline events.
type EventType string

const (
	EventPositionChange EventType = "POSITION_CHANGE"
	EventTradeExecuted  EventType = "TRADE_EXECUTED"
	EventTradeFailed    EventType = "TRADE_FAILED"
	EventTradeRetry     EventType = "TRADE_RETRY"
	EventMonitorError   EventType = "MONITOR_ERROR"
	EventDrawdownAlert  EventType = "DRAWDOWN_ALERT"
	EventTraderPaused   EventType = "TRADER_PAUSED"
	EventStopTriggered  EventType = "STOP_TRIGGERED"
)

// Event is a single pipeline notification.
type Event struct {
	Type      EventType `json:"type"`
	TraderID  string    `json:"trader_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 64

// Bus is an in-process publish/subscribe fan-out. Publish never blocks:
// events to subscribers with full buffers are dropped.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]chan Event
	all     []chan Event
	closed  bool
	bufSize int
	logger  *log.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber channel depth.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		b.bufSize = n
	}
}

// WithLogger sets the logger for dropped-event warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:    make(map[EventType][]chan Event),
		bufSize: DefaultBufferSize,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel receiving events of the given types.
// With no types it receives every event. The channel is closed by Close.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}

	if len(types) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[ev.Type] {
		b.send(ch, ev)
	}
	for _, ch := range b.all {
		b.send(ch, ev)
	}
}

func (b *Bus) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		b.logger.Printf("event bus: dropped %s event (subscriber buffer full)", ev.Type)
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]struct{})
	for _, chans := range b.subs {
		for _, ch := range chans {
			if _, ok := seen[ch]; !ok {
				seen[ch] = struct{}{}
				close(ch)
			}
		}
	}
	for _, ch := range b.all {
		if _, ok := seen[ch]; !ok {
			seen[ch] = struct{}{}
			close(ch)
		}
	}
}
