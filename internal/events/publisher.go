package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// DefaultStream is the Redis Stream all workspace events land on.
const DefaultStream = "raison:workspace:events"

// Publisher appends reasoning events to a Redis Stream. It implements
// reasoning.Sink: delivery is best-effort and a failed XADD is logged, never
// returned, so notification trouble cannot fail a reasoning operation.
type Publisher struct {
	Client *redis.Client
	Stream string
	MaxLen int64
	Logger *log.Logger
}

// NewPublisher creates a Publisher on the default stream.
func NewPublisher(client *redis.Client, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVENTS] ", log.LstdFlags)
	}
	return &Publisher{Client: client, Stream: DefaultStream, MaxLen: 100_000, Logger: logger}
}

// Publish wraps the event in a versioned envelope and appends it.
func (p *Publisher) Publish(ctx context.Context, evt reasoning.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.Logger.Printf("marshal event %s for workspace %s: %v", evt.Kind, evt.WorkspaceID, err)
		return
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      evt.Kind,
		TenantID:       evt.TenantID,
		WorkspaceID:    evt.WorkspaceID,
		OccurredAt:     evt.OccurredAt,
		PayloadVersion: PayloadV1,
		Data:           data,
	}
	raw, err := env.Marshal()
	if err != nil {
		p.Logger.Printf("invalid envelope for %s: %v", evt.Kind, err)
		return
	}
	args := &redis.XAddArgs{
		Stream: p.Stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.MaxLen > 0 {
		args.MaxLen = p.MaxLen
		args.Approx = true
	}
	if err := p.Client.XAdd(ctx, args).Err(); err != nil {
		p.Logger.Printf("xadd %s (%s): %v", p.Stream, evt.Kind, err)
	}
}
