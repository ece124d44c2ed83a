package events

import (
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventStorageStarted fires once storage has finished loading its
	// initial snapshot and is ready to accept reads/writes.
	EventStorageStarted EventType = "storage.started"
	// EventTaskStateChange fires after a task's status is committed,
	// published off the writer goroutine.
	EventTaskStateChange EventType = "task.state_change"
	// EventTasksDeleted fires when tasks are removed from storage outright
	// (as opposed to transitioning to a terminal status).
	EventTasksDeleted EventType = "tasks.deleted"
	// EventVetoed fires when the filter rejects a task/offer pairing,
	// carrying the number of vetoes (not their reasons) in Metadata,
	// without altering the result.
	EventVetoed EventType = "task.vetoed"
	// EventUpdateFinished fires once a rolling update's terminal result
	// has been recorded and its UpdateConfiguration cleared.
	EventUpdateFinished EventType = "update.finished"
)

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewTaskStateChangeEvent builds the event storage publishes after
// committing a task's status transition.
func NewTaskStateChangeEvent(taskID string, jobKey string, from, to string) *Event {
	return &Event{
		Type:    EventTaskStateChange,
		Message: taskID,
		Metadata: map[string]string{
			"job_key": jobKey,
			"from":    from,
			"status":  to,
		},
	}
}

// NewTasksDeletedEvent builds the event storage publishes when a GC pass
// or explicit delete removes tasks outright rather than transitioning
// them to a terminal status.
func NewTasksDeletedEvent(count int) *Event {
	return &Event{
		Type:     EventTasksDeleted,
		Metadata: map[string]string{"count": strconv.Itoa(count)},
	}
}

// NewVetoedEvent builds the event the filter publishes when placement of
// taskID is rejected, carrying how many independent vetoes fired.
func NewVetoedEvent(taskID string, vetoCount int) *Event {
	return &Event{
		Type:     EventVetoed,
		Message:  taskID,
		Metadata: map[string]string{"count": strconv.Itoa(vetoCount)},
	}
}

// NewUpdateFinishedEvent builds the event the update manager publishes
// once a rolling update reaches a terminal result.
func NewUpdateFinishedEvent(jobKey string, result string) *Event {
	return &Event{
		Type:    EventUpdateFinished,
		Message: jobKey,
		Metadata: map[string]string{
			"job_key": jobKey,
			"result":  result,
		},
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
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
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
