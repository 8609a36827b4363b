package domain

import "context"

// Deliverer sends a text message to a recipient on the messaging platform.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID, text string) error
}
