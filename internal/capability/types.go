// Package capability implements the business capabilities the AI engine may
// invoke: order status lookup, return initiation, product search, and
// customer record updates.
package capability

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrOrderNotFound indicates no order with the given number for the tenant.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCustomerNotFound indicates no customer record for the identity.
	ErrCustomerNotFound = errors.New("customer not found")
)

// Order is a normalized commerce order, upserted from platform events.
type Order struct {
	ID                string
	TenantID          string
	Platform          string
	ExternalID        string
	Number            string
	Status            string
	FinancialStatus   string
	FulfillmentStatus string
	Total             float64
	Currency          string
	CustomerEmail     string
	CustomerPhone     string
	CustomerName      string
	TrackingNumber    string
	TrackingURL       string
	PlacedAt          time.Time
	UpdatedAt         time.Time
}

// Return is an initiated return (RMA) for an order.
type Return struct {
	ID          string
	TenantID    string
	OrderNumber string
	RMA         string
	Reason      string
	Status      string
	CreatedAt   time.Time
}

// Product is a searchable catalog entry.
type Product struct {
	ID          string
	TenantID    string
	Title       string
	Description string
	Price       float64
	Currency    string
	InStock     bool
}

// Customer is the merchant's record of one customer.
type Customer struct {
	ID        string
	TenantID  string
	Phone     string
	Email     string
	Name      string
	Address   string
	UpdatedAt time.Time
}

// Store persists the capability domain records.
type Store interface {
	UpsertOrder(ctx context.Context, order Order) error
	GetOrderByNumber(ctx context.Context, tenantID, number string) (Order, error)
	CreateReturn(ctx context.Context, ret Return) (Return, error)
	GetReturnByRMA(ctx context.Context, tenantID, rma string) (Return, error)
	SearchProducts(ctx context.Context, tenantID, query string, limit int) ([]Product, error)
	UpsertCustomer(ctx context.Context, customer Customer) error
}
