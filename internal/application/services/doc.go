// Package services provides the flow execution engine of NexusFlow.
//
// This package contains the service implementations that handle:
//   - Instance start, step completion and advancement across branches and
//     parallel groups (FlowAdvancementService)
//   - Side effects of automation steps: webhooks, REST calls, email and
//     remote tool calls (AutomationDispatcherService)
//   - The bounded loop that runs consecutive automation steps (AutoExecutorService)
//   - Reminder, overdue and escalation timers of human steps (ReminderService)
//   - Cron-driven recurring starts (SchedulerService)
//   - Live event delivery to SSE subscribers (EventBroadcaster, EventBus)
//
// ServiceManager wires them together; persistence, mail and tool servers
// are reached through the interfaces in the ports package.
package services
