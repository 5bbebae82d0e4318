package sequence

import "context"

// Email is one outbound send request handed to the mail transport
type Email struct {
	From      string
	FromName  string
	To        string
	Subject   string
	Body      string
	MessageID string
}

// Mailer is the outbound transport boundary. It either accepts or
// rejects a send; deduplication is the sequencing engine's job, not the
// transport's. Implementations must respect ctx for the per-send timeout.
type Mailer interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}
