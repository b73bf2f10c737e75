package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the intent was cancelled before capture.
	StatusCanceled Status = "canceled"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookNotConfigured is returned when no signing secret is available.
	ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")
)

// IntentRequest captures the payload required to open a payment intent for an order.
type IntentRequest struct {
	Amount         int64
	Currency       string
	OrderID        string
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the PSP payment intent returned to the storefront client.
type Intent struct {
	ID           string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	CreatedAt    time.Time
}

// WebhookEvent is a verified PSP notification reduced to the fields order processing needs.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	// Status is empty for event types that do not change payment state.
	Status  Status
	OrderID string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
