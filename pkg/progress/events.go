package progress

import (
	"sync"
	"time"
)

// EventType is the kind of build/job lifecycle event the BuildDriver and
// LifecycleManager report to subscribers (the CLI's OutputFormatter,
// primarily).
type EventType string

const (
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventJobEnqueued    EventType = "job.enqueued"
	EventJobClaimed     EventType = "job.claimed"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventJobCancelled   EventType = "job.cancelled"
	EventWorkerStarted  EventType = "worker.started"
	EventWorkerStopped  EventType = "worker.stopped"
	EventWorkerReaped   EventType = "worker.reaped"
	EventBuildCompleted EventType = "build.completed"
	EventProgressTick   EventType = "progress.tick"
	EventJobLongRunning EventType = "job.long_running"
)

// Event is one reported occurrence during a build or watch cycle.
type Event struct {
	ID            string
	Type          EventType
	Timestamp     time.Time
	Message       string
	JobID         int64
	WorkerID      int64
	CorrelationID string
	Metadata      map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution, used by the
// BuildDriver to fan progress out to one or more OutputFormatters without
// coupling it to their number or lifetime.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
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
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
