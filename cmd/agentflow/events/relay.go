package events

import (
	"context"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/redis"
)

// ChannelFor returns the pub/sub channel carrying an execution's events.
func ChannelFor(executionID uuid.UUID) string {
	return "agentflow:events:" + executionID.String()
}

// Relay publishes every event as a JSON frame on the execution's Redis
// channel, so consumers outside this process can follow runs. The relay
// is optional; deployments without Redis simply never construct one.
type Relay struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRelay wraps an established Redis connection.
func NewRelay(client *redis.Client, log *logger.Logger) *Relay {
	return &Relay{
		client: client,
		log:    log.Named("event-relay"),
	}
}

// Emit implements Emitter. Publish failures are logged by the client
// and dropped; a broken relay must not fail the run.
func (r *Relay) Emit(ctx context.Context, ev *Event) {
	_ = r.client.PublishEvent(ctx, ChannelFor(ev.ExecutionID), string(ev.Frame()))
}
