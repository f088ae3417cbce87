package event

import (
	"fmt"
	"sync"
)

// Registry holds the registered platform normalizers. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[Platform]Normalizer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: map[Platform]Normalizer{}}
}

// Register adds a normalizer to the registry.
func (r *Registry) Register(n Normalizer) error {
	if n == nil {
		return fmt.Errorf("normalizer is nil")
	}
	p := n.Platform()
	if p == "" {
		return fmt.Errorf("normalizer platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.normalizers[p]; exists {
		return fmt.Errorf("platform already registered: %s", p)
	}
	r.normalizers[p] = n
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(n Normalizer) {
	if err := r.Register(n); err != nil {
		panic(err)
	}
}

// Get returns the normalizer for the given platform.
func (r *Registry) Get(p Platform) (Normalizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[p]
	return n, ok
}

// Normalize dispatches to the registered normalizer for the delivery's platform.
func (r *Registry) Normalize(raw RawDelivery) ([]InboundEvent, error) {
	n, ok := r.Get(raw.Platform)
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", raw.Platform)
	}
	return n.Normalize(raw)
}

// Platforms returns all registered platforms.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Platform, 0, len(r.normalizers))
	for p := range r.normalizers {
		items = append(items, p)
	}
	return items
}

// DefaultRegistry returns a registry with all built-in normalizers installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(NewShopifyNormalizer())
	r.MustRegister(NewWooCommerceNormalizer())
	r.MustRegister(NewWhatsAppNormalizer())
	return r
}
