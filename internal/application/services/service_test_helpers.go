package services

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
)

// MockEmailSender records sends
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockToolInvoker stands in for a remote tool server
type MockToolInvoker struct {
	mock.Mock
}

func (m *MockToolInvoker) CallTool(ctx context.Context, serverURL, toolName string, arguments map[string]interface{}) (*ports.ToolCallResult, error) {
	args := m.Called(ctx, serverURL, toolName, arguments)
	res, _ := args.Get(0).(*ports.ToolCallResult)
	return res, args.Error(1)
}

// RecordingPublisher captures emitted events
type RecordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	OrganizationID string
	Event          events.Event
}

func (p *RecordingPublisher) Emit(organizationID string, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{OrganizationID: organizationID, Event: event})
}

// Types returns the emitted event types in order
func (p *RecordingPublisher) Types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event.Type)
	}
	return out
}

// Count returns how many events of the given type were emitted
func (p *RecordingPublisher) Count(t events.EventType) int {
	n := 0
	for _, et := range p.Types() {
		if et == t {
			n++
		}
	}
	return n
}

// RecordingReminders captures armed and disarmed reminders
type RecordingReminders struct {
	mu       sync.Mutex
	armed    []string
	disarmed []string
}

func (r *RecordingReminders) Arm(instance *models.FlowInstance, step *models.StepExecution, def *models.StepDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = append(r.armed, step.ID)
}

func (r *RecordingReminders) Disarm(stepExecutionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disarmed = append(r.disarmed, stepExecutionID)
}

// captureLog redirects the standard logger for the duration of a test
func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := log.Writer()
	log.SetOutput(buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
