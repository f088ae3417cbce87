package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]Order  // tenant/platform/external_id
	returns   map[string]Return // tenant/rma
	products  []Product
	customers map[string]Customer // tenant/phone
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    map[string]Order{},
		returns:   map[string]Return{},
		customers: map[string]Customer{},
	}
}

// UpsertOrder implements Store.
func (s *MemoryStore) UpsertOrder(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := order.TenantID + "/" + order.Platform + "/" + order.ExternalID
	if existing, ok := s.orders[key]; ok {
		order.ID = existing.ID
	}
	s.orders[key] = order
	return nil
}

// GetOrderByNumber implements Store.
func (s *MemoryStore) GetOrderByNumber(_ context.Context, tenantID, number string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.TenantID == tenantID && order.Number == number {
			return order, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

// CreateReturn implements Store.
func (s *MemoryStore) CreateReturn(_ context.Context, ret Return) (Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ret.TenantID + "/" + ret.RMA
	if existing, ok := s.returns[key]; ok {
		return existing, nil
	}
	s.returns[key] = ret
	return ret, nil
}

// GetReturnByRMA implements Store.
func (s *MemoryStore) GetReturnByRMA(_ context.Context, tenantID, rma string) (Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret, ok := s.returns[tenantID+"/"+rma]
	if !ok {
		return Return{}, fmt.Errorf("return %s not found", rma)
	}
	return ret, nil
}

// AddProduct seeds a catalog entry.
func (s *MemoryStore) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, p)
}

// SearchProducts implements Store.
func (s *MemoryStore) SearchProducts(_ context.Context, tenantID, query string, limit int) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	var matches []Product
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Title), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) {
			matches = append(matches, p)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].InStock != matches[j].InStock {
			return matches[i].InStock
		}
		return matches[i].Title < matches[j].Title
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// UpsertCustomer implements Store.
func (s *MemoryStore) UpsertCustomer(_ context.Context, customer Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := customer.TenantID + "/" + customer.Phone
	if existing, ok := s.customers[key]; ok {
		if customer.Email == "" {
			customer.Email = existing.Email
		}
		if customer.Name == "" {
			customer.Name = existing.Name
		}
		if customer.Address == "" {
			customer.Address = existing.Address
		}
		customer.ID = existing.ID
	}
	s.customers[key] = customer
	return nil
}

// GetCustomer returns a seeded or updated customer. Test helper.
func (s *MemoryStore) GetCustomer(tenantID, phone string) (Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[tenantID+"/"+phone]
	return c, ok
}
