package realtime

import (
	"context"

	"carechat-service/internal/models"
)

// Subscription is a live feed of newly created messages for one conversation.
// Close is synchronous: once it returns, the callback will not be invoked
// again and any in-flight delivery has completed.
type Subscription interface {
	Close()
}

// Feed delivers newly created message rows to subscribers scoped to a single
// conversation. Exactly one subscription per session may be open at a time;
// callers tear down the previous subscription before opening a new one.
type Feed interface {
	Subscribe(conversationID string, fn func(models.Message)) (Subscription, error)
	Publish(ctx context.Context, msg models.Message) error
}
