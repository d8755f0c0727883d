package notifier

import "context"

// Channel delivers plain-text messages to a destination and returns an opaque
// handle identifying the delivered message.
type Channel interface {
	Name() string
	Send(ctx context.Context, destination, text string) (string, error)
}

// Editor is implemented by channels that can rewrite a delivered message.
type Editor interface {
	Edit(ctx context.Context, destination, handle, text string) error
}
