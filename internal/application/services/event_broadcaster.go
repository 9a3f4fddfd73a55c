package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/utils"
)

// HeartbeatFrame keeps idle SSE connections alive
const HeartbeatFrame = ":heartbeat\n\n"

const defaultSubscriberBuffer = 32

// Subscriber is one live SSE connection of an organization.
// Frames arrive on Frames until the subscriber is removed.
type Subscriber struct {
	ID             string
	OrganizationID string
	frames         chan string
}

// Frames returns the channel of pre-framed SSE messages
func (s *Subscriber) Frames() <-chan string {
	return s.frames
}

// EventBroadcaster keeps per-organization subscriber sets and pushes framed
// events to them. A full subscriber buffer drops the frame for that
// subscriber only.
// It implements ports.EventPublisher interface.
type EventBroadcaster struct {
	subscribers map[string]map[string]*Subscriber
	count       int
	mu          sync.RWMutex

	bufferSize        int
	heartbeatInterval time.Duration

	started       bool
	heartbeatStop chan struct{}
	wg            sync.WaitGroup
}

// Ensure EventBroadcaster implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBroadcaster)(nil)

// NewEventBroadcaster creates a broadcaster. A zero interval uses the default heartbeat.
func NewEventBroadcaster(heartbeatInterval time.Duration) *EventBroadcaster {
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Duration(constants.HeartbeatIntervalSecs) * time.Second
	}
	return &EventBroadcaster{
		subscribers:       make(map[string]map[string]*Subscriber),
		bufferSize:        defaultSubscriberBuffer,
		heartbeatInterval: heartbeatInterval,
	}
}

// Start enables heartbeats. The heartbeat timer only runs while at least one subscriber exists.
func (b *EventBroadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	if b.count > 0 {
		b.startHeartbeatLocked()
	}
	log.Printf("📡 Event broadcaster started (heartbeat every %s)", b.heartbeatInterval)
}

// Stop halts heartbeats and closes every subscriber so open streams end.
func (b *EventBroadcaster) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.stopHeartbeatLocked()
	for orgID, set := range b.subscribers {
		for _, sub := range set {
			close(sub.frames)
		}
		delete(b.subscribers, orgID)
	}
	b.count = 0
	b.mu.Unlock()

	b.wg.Wait()
	log.Println("📡 Event broadcaster stopped")
}

// Subscribe registers a new live connection for the organization
func (b *EventBroadcaster) Subscribe(organizationID string) *Subscriber {
	sub := &Subscriber{
		ID:             utils.GenerateID(),
		OrganizationID: organizationID,
		frames:         make(chan string, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[organizationID]
	if !ok {
		set = make(map[string]*Subscriber)
		b.subscribers[organizationID] = set
	}
	set[sub.ID] = sub
	b.count++

	if b.started && b.heartbeatStop == nil {
		b.startHeartbeatLocked()
	}
	return sub
}

// Unsubscribe removes a connection. Safe to call more than once.
func (b *EventBroadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[sub.OrganizationID]
	if !ok {
		return
	}
	if _, ok := set[sub.ID]; !ok {
		return
	}
	delete(set, sub.ID)
	close(sub.frames)
	b.count--
	if len(set) == 0 {
		delete(b.subscribers, sub.OrganizationID)
	}
	if b.count == 0 {
		b.stopHeartbeatLocked()
	}
}

// SubscriberCount returns the number of live subscribers of an organization
func (b *EventBroadcaster) SubscriberCount(organizationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[organizationID])
}

// TotalSubscribers returns the number of live subscribers across organizations
func (b *EventBroadcaster) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Emit pushes an event to every subscriber of the organization.
func (b *EventBroadcaster) Emit(organizationID string, event events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.subscribers[organizationID]
	if len(set) == 0 {
		return
	}
	if !event.Type.IsKnown() {
		log.Printf("⚠️ Emitting unrecognized event type %q", event.Type)
	}

	frame, err := FormatEventFrame(event)
	if err != nil {
		log.Printf("❌ Failed to encode %s event: %v", event.Type, err)
		return
	}
	for _, sub := range set {
		b.deliver(sub, frame)
	}
}

func (b *EventBroadcaster) deliver(sub *Subscriber, frame string) {
	select {
	case sub.frames <- frame:
	default:
		// Slow or dead connection; it is cleaned up when its stream ends
	}
}

func (b *EventBroadcaster) startHeartbeatLocked() {
	stop := make(chan struct{})
	b.heartbeatStop = stop
	b.wg.Add(1)
	go b.heartbeatLoop(stop)
}

func (b *EventBroadcaster) stopHeartbeatLocked() {
	if b.heartbeatStop != nil {
		close(b.heartbeatStop)
		b.heartbeatStop = nil
	}
}

func (b *EventBroadcaster) heartbeatLoop(stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.RLock()
			for _, set := range b.subscribers {
				for _, sub := range set {
					b.deliver(sub, HeartbeatFrame)
				}
			}
			b.mu.RUnlock()
		}
	}
}

// FormatEventFrame renders an event as an SSE frame
func FormatEventFrame(event events.Event) (string, error) {
	data := event.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload), nil
}
