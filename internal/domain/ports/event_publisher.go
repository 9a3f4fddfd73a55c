package ports

import (
	"github.com/nexusflow/backend/internal/domain/events"
)

// EventPublisher pushes typed events to the live subscribers of an organization.
// Emit never blocks on a slow subscriber and never fails the caller.
type EventPublisher interface {
	Emit(organizationID string, event events.Event)
}
