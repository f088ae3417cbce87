// Package tenant resolves the merchant a webhook belongs to and the secret
// material used to verify it.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/botlerhq/botler/internal/event"
)

// ErrNotFound indicates no tenant with the given id exists or it is disabled.
var ErrNotFound = errors.New("tenant not found")

// Credentials is the per-platform secret material for one tenant.
type Credentials struct {
	// WebhookSecret signs Shopify/WooCommerce deliveries and, for WhatsApp,
	// holds the Meta app secret.
	WebhookSecret string `json:"webhook_secret"`
	// VerifyToken is the WhatsApp subscription handshake token.
	VerifyToken string `json:"verify_token"`
	// AccessToken authorizes outbound WhatsApp sends.
	AccessToken string `json:"access_token"`
	// PhoneNumberID is the WhatsApp business phone number identity.
	PhoneNumberID string `json:"phone_number_id"`
}

// Tenant is one merchant account.
type Tenant struct {
	ID          string
	Name        string
	Enabled     bool
	Credentials map[event.Platform]Credentials
	CreatedAt   time.Time
}

// CredentialsFor returns the tenant's secret material for a platform.
func (t Tenant) CredentialsFor(p event.Platform) (Credentials, bool) {
	c, ok := t.Credentials[p]
	return c, ok
}

// Store looks tenants up by id.
type Store interface {
	Get(ctx context.Context, id string) (Tenant, error)
}
