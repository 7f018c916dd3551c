package reasoning

import (
	"context"
	"time"
)

// Event kinds published to the outbound queue.
const (
	EventTransitioned    = "workspace.transitioned"
	EventValidated       = "workspace.validated"
	EventEscalated       = "workspace.escalated"
	EventMissingResolved = "workspace.missing_resolved"
	EventContextRejected = "workspace.context_rejected"
)

// Escalation urgency bands.
const (
	UrgencyElevated = "elevated"
	UrgencyUrgent   = "urgent"
	UrgencyCritical = "critical"
)

// Event is an outbound notification. One pointer arm per kind; the queue
// serializes only the populated arm.
type Event struct {
	Kind        string    `json:"kind"`
	TenantID    string    `json:"tenant_id"`
	WorkspaceID string    `json:"workspace_id"`
	OccurredAt  time.Time `json:"occurred_at"`

	Transition *ReasoningTransition `json:"transition,omitempty"`
	Validation *ValidationMeta      `json:"validation,omitempty"`
	Escalation *EscalationPayload   `json:"escalation,omitempty"`
	Resolution *ResolutionMeta      `json:"resolution,omitempty"`
	Context    *ContextMeta         `json:"context,omitempty"`
}

// EscalationPayload describes a stalled workspace surfaced by the watchdog.
type EscalationPayload struct {
	State          State         `json:"state"`
	Urgency        string        `json:"urgency"`
	StalledFor     time.Duration `json:"stalled_for"`
	StateChangedAt time.Time     `json:"state_changed_at"`
}

// Sink receives outbound events. Publishing is fire-and-forget from the
// core's point of view: implementations must never let a delivery failure
// propagate into the reasoning operation that produced the event.
type Sink interface {
	Publish(ctx context.Context, evt Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}
