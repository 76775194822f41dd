package queue

import (
	"context"
	"encoding/json"
)

// Job handles one kind of queued work. Name is the routing key passed to Enqueue.
type Job interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}
