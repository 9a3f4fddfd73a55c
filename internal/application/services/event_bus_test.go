package services

import (
	"testing"

	"github.com/nexusflow/backend/internal/domain/events"
	"github.com/stretchr/testify/assert"
)

func TestEventBusForwardsAndDispatches(t *testing.T) {
	downstream := &RecordingPublisher{}
	bus := NewEventBus(downstream)

	var seen []string
	unsubscribe := bus.Subscribe(events.RunCompleted, func(orgID string, event events.Event) {
		seen = append(seen, orgID+":"+event.Data["instanceId"].(string))
	})
	bus.Subscribe(events.StepFailed, func(string, events.Event) {
		t.Fatal("step.failed handler must not run for run.completed")
	})

	bus.Emit("org-1", events.Event{Type: events.RunCompleted, Data: map[string]interface{}{"instanceId": "inst-1"}})

	assert.Equal(t, []string{"org-1:inst-1"}, seen)
	assert.Equal(t, []events.EventType{events.RunCompleted}, downstream.Types())

	unsubscribe()
	bus.Emit("org-1", events.Event{Type: events.RunCompleted, Data: map[string]interface{}{"instanceId": "inst-2"}})
	assert.Len(t, seen, 1)
	assert.Equal(t, 2, downstream.Count(events.RunCompleted))
}

func TestEventBusRecoversFromPanickingHandler(t *testing.T) {
	bus := NewEventBus()
	ran := false
	bus.Subscribe(events.StepFailed, func(string, events.Event) { panic("boom") })
	bus.Subscribe(events.StepFailed, func(string, events.Event) { ran = true })

	assert.NotPanics(t, func() {
		bus.Emit("org-1", events.Event{Type: events.StepFailed, Data: map[string]interface{}{}})
	})
	assert.True(t, ran)
}

func TestEventBusClear(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(events.RunStarted, func(string, events.Event) { calls++ })
	bus.Clear()

	bus.Emit("org-1", events.Event{Type: events.RunStarted})
	assert.Zero(t, calls)
}

func TestEventBusLogLifecycle(t *testing.T) {
	logs := captureLog(t)
	bus := NewEventBus()
	bus.LogLifecycle()

	bus.Emit("org-1", events.Event{Type: events.RunCompleted, Data: map[string]interface{}{"instanceId": "inst-1"}})
	bus.Emit("org-1", events.Event{Type: events.StepFailed, Data: map[string]interface{}{"instanceId": "inst-1", "stepId": "notify", "error": "HTTP 500"}})

	assert.Contains(t, logs.String(), "✅ Run inst-1 completed (org org-1)")
	assert.Contains(t, logs.String(), "❌ Step notify of run inst-1 failed: HTTP 500")
}
