package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/botlerhq/botler/internal/config"
	"github.com/botlerhq/botler/internal/event"
)

// MemoryStore is a process-local tenant registry. Single-tenant deployments
// seed it from configuration; tests seed it directly.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewMemoryStore creates an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: map[string]Tenant{}}
}

// FromConfig builds a single-tenant registry from the configured platform
// secrets. The tenant id is "default".
func FromConfig(cfg *config.Config) *MemoryStore {
	s := NewMemoryStore()
	s.Put(Tenant{
		ID:      "default",
		Name:    "default",
		Enabled: true,
		Credentials: map[event.Platform]Credentials{
			event.PlatformShopify: {
				WebhookSecret: cfg.Shopify.WebhookSecret,
			},
			event.PlatformWooCommerce: {
				WebhookSecret: cfg.WooCommerce.WebhookSecret,
			},
			event.PlatformWhatsApp: {
				WebhookSecret: cfg.WhatsApp.AppSecret,
				VerifyToken:   cfg.WhatsApp.VerifyToken,
				AccessToken:   cfg.WhatsApp.AccessToken,
			},
		},
		CreatedAt: time.Now(),
	})
	return s
}

// Put inserts or replaces a tenant.
func (s *MemoryStore) Put(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok || !t.Enabled {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
