package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/expression"
)

// ManagerOptions carries the tunables of the engine services
type ManagerOptions struct {
	HeartbeatInterval time.Duration
	ReminderUnit      time.Duration
	MaxIterations     int
	ClientVersion     string
	Dispatcher        DispatcherOptions
	Scheduler         SchedulerOptions
}

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	Store ports.FlowStore

	// Core services
	Broadcaster  *EventBroadcaster
	EventBus     *EventBus
	Registry     *StepTypeRegistry
	Conditions   *expression.Engine
	Reminders    *ReminderService
	Advancement  *FlowAdvancementService
	Dispatcher   *AutomationDispatcherService
	AutoExecutor *AutoExecutorService
	Scheduler    *SchedulerService
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(store ports.FlowStore, email ports.EmailSender, opts ManagerOptions) *ServiceManager {
	sm := &ServiceManager{Store: store}

	// Initialize services in dependency order
	sm.Broadcaster = NewEventBroadcaster(opts.HeartbeatInterval)
	sm.EventBus = NewEventBus(sm.Broadcaster)
	sm.EventBus.LogLifecycle()

	sm.Registry = NewStepTypeRegistry()
	sm.Conditions = expression.NewEngine()

	// Reminders record through the advancement service, which arms them in turn
	sm.Reminders = NewReminderService(store, store, email, sm.EventBus, opts.ReminderUnit)
	sm.Advancement = NewFlowAdvancementService(store, sm.EventBus, sm.Reminders, sm.Conditions, sm.Registry)
	sm.Reminders.SetRecorder(sm.Advancement)

	clientVersion := opts.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}
	sm.Dispatcher = NewAutomationDispatcher(sm.Registry, email, NewMCPToolInvoker(clientVersion), store, opts.Dispatcher)

	// AutoExecutor needs the advancement service; advancement gets it back via setter
	sm.AutoExecutor = NewAutoExecutor(store, sm.Advancement, sm.Dispatcher, sm.Registry, opts.MaxIterations)
	sm.Advancement.SetAutoExecutor(sm.AutoExecutor)

	sm.Scheduler = NewSchedulerService(store, sm.Advancement, opts.Scheduler)

	return sm
}

// Start begins heartbeats, restores persisted schedules and starts the cron backend.
// Call this during server startup.
func (sm *ServiceManager) Start(ctx context.Context) error {
	sm.Broadcaster.Start()

	restored, err := sm.Scheduler.RestoreSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore schedules: %w", err)
	}
	sm.Scheduler.Start()
	log.Printf("✅ Engine services started (%d schedule(s) restored)", restored)
	return nil
}

// Stop halts the scheduler, pending reminder timers and live streams.
// Call this during server shutdown.
func (sm *ServiceManager) Stop() {
	sm.Scheduler.Stop()
	sm.Reminders.Stop()
	sm.Broadcaster.Stop()
}
