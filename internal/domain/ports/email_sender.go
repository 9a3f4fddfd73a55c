package ports

import "context"

// EmailSender delivers one message to one recipient. One attempt, no retry.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
