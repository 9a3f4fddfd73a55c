// Package ports defines the interfaces (ports) the execution engine consumes.
// Persistence, mail delivery, tool servers and push delivery are adapters behind
// these interfaces, which keeps the engine testable with in-memory fakes.
package ports
