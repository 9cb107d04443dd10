package events

import (
	"sync"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventPromptAssigned   EventType = "prompt.assigned"
	EventPromptCompleted  EventType = "prompt.completed"
	EventPromptFailed     EventType = "prompt.failed"
	EventPromptRetried    EventType = "prompt.retried"
	EventServiceStarted   EventType = "service.started"
	EventServiceFailed    EventType = "service.failed"
	EventServiceBackoff   EventType = "service.backoff"
	EventServiceFatal     EventType = "service.fatal"
	EventResourceExceeded EventType = "service.resource_exceeded"
	EventNodeDown         EventType = "node.down"
	EventFailoverPromoted EventType = "cluster.failover"
)

// Severity grades a notification: transport and timeout failures are
// warnings, exhausted restart budgets are critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one fire-and-forget notification raised by the core.
type Event struct {
	ID        string
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	ServiceID string
	PromptID  int64
	NodeID    string
	Message   string
	Metadata  map[string]string
}

// Subscriber receives a broker's events. Each subscriber has its own
// buffer; one that stops draining loses events rather than stalling
// the broker.
type Subscriber chan *Event

const (
	brokerBuffer     = 100
	subscriberBuffer = 50
)

// Broker fans published events out to subscribers without ever
// blocking a publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool

	eventCh chan *Event
	stopCh  chan struct{}
}

// NewBroker builds a stopped Broker; call Start to begin delivery.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, brokerBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts delivery. Events published after Stop are dropped.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers and returns a new subscriber channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues an event for delivery. It never blocks: when the
// broker buffer is full or the broker is stopped, the event is dropped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default: // subscriber buffer full
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
