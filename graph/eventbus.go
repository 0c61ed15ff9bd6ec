package graph

import "sync"

// Event is the common interface implemented by every event variant a Node
// or the Runner can emit. Core code depends only on EventSender.Send
// accepting an Event; it never inspects variant fields itself.
type Event interface {
	// EventScope returns the event's scope label, used for the
	// distinguished "stream_end" diagnostic and for filtering.
	EventScope() string
}

// NodeEvent is emitted by a running node via NodeContext.Emit.
type NodeEvent struct {
	NodeID  string
	Step    uint64
	Scope   string
	Message string
}

// EventScope implements Event.
func (e NodeEvent) EventScope() string { return e.Scope }

// DiagnosticEvent is a Runner/Scheduler-level event not tied to any single
// node, such as the distinguished "stream_end" event App.InvokeStreaming
// broadcasts when its run finishes.
type DiagnosticEvent struct {
	ScopeLabel string
	Message    string
}

// EventScope implements Event.
func (e DiagnosticEvent) EventScope() string { return e.ScopeLabel }

// StreamEndScope is the distinguished scope label of the DiagnosticEvent
// App.InvokeStreaming sends when its run completes, fails or is aborted,
// letting subscribers detect the end of a streaming run without polling
// SessionState. Runs started through Invoke or the Runner do not send it.
const StreamEndScope = "stream_end"

// LagScope is the scope label of the DiagnosticEvent a slow subscriber
// receives in-band when its buffer overflowed and events were dropped.
const LagScope = "lagged"

// LLMEvent carries a streamed token chunk from a model-calling node.
// Final is true on the chunk that ends the stream for StreamID.
type LLMEvent struct {
	StreamID string
	Chunk    string
	Final    bool
}

// EventScope implements Event.
func (e LLMEvent) EventScope() string { return "llm" }

// EventSender is the sole side-channel interface a Node's NodeContext
// exposes. Send must not block the caller; a saturated or disconnected bus
// returns ErrEventBusUnavailable rather than applying backpressure to node
// execution.
type EventSender interface {
	Send(event Event) error
}

// EventBus is a many-producer, many-consumer broadcast hub with bounded
// per-subscriber buffers. It is the default EventSender wired by the
// Runner/App. Each subscriber owns an independent channel with its own
// lag semantics, so one slow listener never stalls the others.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
}

type subscriber struct {
	ch     chan Event
	lagged bool
}

// NewEventBus creates an EventBus whose subscriber channels each hold up to
// bufferSize pending events before the subscriber is marked lagged.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &EventBus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Send implements EventSender by broadcasting event to every live
// subscriber. A subscriber whose buffer is full has the event dropped
// for it alone and is marked lagged. Its first overflow also pushes a lag
// notification in-band — a DiagnosticEvent with LagScope in place of the
// oldest queued event — so a consumer that only ranges over Events()
// still learns it missed something; later overflows are recorded by the
// lagged flag only. The subscriber is never disconnected, and producers
// never block: when any subscriber's buffer was full, Send still delivers
// to the others and returns ErrEventBusUnavailable.
func (b *EventBus) Send(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusUnavailable
	}
	saturated := false
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			sub.notifyLag()
			saturated = true
		}
	}
	if saturated {
		return ErrEventBusUnavailable
	}
	return nil
}

// notifyLag marks the subscriber lagged and, on its first overflow, swaps
// its oldest queued event for an in-stream lag notification. The lagged
// flag never resets, so later overflows inject no further notification.
// Best-effort and non-blocking throughout: if the buffer races to full
// again, the flag alone records the loss.
func (s *subscriber) notifyLag() {
	if s.lagged {
		return
	}
	s.lagged = true
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- DiagnosticEvent{ScopeLabel: LagScope, Message: "event stream lagged; one or more events were dropped"}:
	default:
	}
}

// EventStream is a subscriber's read handle onto an EventBus.
type EventStream struct {
	bus *EventBus
	id  int
	ch  chan Event
}

// Subscribe registers a new subscriber and returns its EventStream. Call
// Close when done to release the subscriber slot.
func (b *EventBus) Subscribe() *EventStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = &subscriber{ch: ch}
	return &EventStream{bus: b, id: id, ch: ch}
}

// Events returns the channel of events for this subscriber. The channel is
// closed when the stream is closed or the bus is closed.
func (s *EventStream) Events() <-chan Event {
	return s.ch
}

// Lagged reports whether this subscriber has ever dropped an event due
// to a full buffer, for callers that poll rather than watch for the
// in-stream LagScope diagnostic. It does not reset automatically.
func (s *EventStream) Lagged() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	sub, ok := s.bus.subscribers[s.id]
	if !ok {
		return false
	}
	return sub.lagged
}

// Close unsubscribes and closes the underlying channel.
func (s *EventStream) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(sub.ch)
	}
}

// Close shuts the bus down, closing every live subscriber's channel and
// failing future Send calls with ErrEventBusUnavailable.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
