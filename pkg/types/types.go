package types

import (
	"time"

	"github.com/google/uuid"
)

// ID identifies stored transitions and published events.
type ID = uuid.UUID

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Transition records one suspend or unsuspend request for a tenant.
type Transition struct {
	ID        ID        `json:"id"`
	VHost     string    `json:"vhost"`
	Name      string    `json:"name,omitempty"`
	Suspended bool      `json:"suspended"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TenantState is the latest successful transition of a tenant.
type TenantState struct {
	VHost     string    `json:"vhost"`
	Name      string    `json:"name,omitempty"`
	Suspended bool      `json:"suspended"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event is the payload forwarded to the telemetry sink.
type Event struct {
	ID        ID        `json:"id"`
	VHost     string    `json:"vhost"`
	Name      string    `json:"name,omitempty"`
	Suspended bool      `json:"suspended"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventFrom copies a transition into its published form.
func EventFrom(t Transition) Event {
	return Event(t)
}

// WebhookResponse is the body of every webhook reply.
type WebhookResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// SubdomainPayload is accepted by /webhooks/suspend and /webhooks/unsuspend.
type SubdomainPayload struct {
	Subdomain string `json:"subdomain"`
}

// DomainPayload is accepted by the raw webhook routes.
type DomainPayload struct {
	Domain string `json:"domain"`
	Name   string `json:"name,omitempty"`
}

// Version is returned by GET /api/v1/version.
type Version struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}
