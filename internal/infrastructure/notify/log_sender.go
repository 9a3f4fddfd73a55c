package notify

import (
	"context"
	"log"
	"sync"

	"github.com/nexusflow/backend/internal/domain/ports"
)

// Message is one mail recorded by LogSender
type Message struct {
	To      string
	Subject string
	Body    string
}

// LogSender logs mail instead of delivering it. Used when no SMTP relay is configured.
type LogSender struct {
	mu   sync.Mutex
	sent []Message
}

var _ ports.EmailSender = (*LogSender)(nil)

// NewLogSender creates a LogSender
func NewLogSender() *LogSender {
	return &LogSender{}
}

// Send logs the message and keeps it for inspection
func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	log.Printf("📧 EMAIL: To=%s Subject=%s", to, subject)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of the logged messages
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
