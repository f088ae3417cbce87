package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botlerhq/botler/internal/db"
)

// PgStore is the Postgres-backed capability store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// UpsertOrder implements Store. Orders are keyed by platform identity so
// redelivered and updated events converge on one row.
func (s *PgStore) UpsertOrder(ctx context.Context, order Order) error {
	const q = `
		INSERT INTO orders (
			id, tenant_id, platform, external_id, number, status,
			financial_status, fulfillment_status, total, currency,
			customer_email, customer_phone, customer_name,
			tracking_number, tracking_url, placed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
		ON CONFLICT (tenant_id, platform, external_id) DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			financial_status = EXCLUDED.financial_status,
			fulfillment_status = EXCLUDED.fulfillment_status,
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			customer_email = EXCLUDED.customer_email,
			customer_phone = EXCLUDED.customer_phone,
			customer_name = EXCLUDED.customer_name,
			tracking_number = EXCLUDED.tracking_number,
			tracking_url = EXCLUDED.tracking_url,
			updated_at = now()`
	_, err := s.pool.Exec(ctx, q,
		order.ID, order.TenantID, order.Platform, order.ExternalID, order.Number,
		order.Status, order.FinancialStatus, order.FulfillmentStatus,
		order.Total, order.Currency, order.CustomerEmail, order.CustomerPhone,
		order.CustomerName, order.TrackingNumber, order.TrackingURL,
		db.PgTime(order.PlacedAt))
	if err != nil {
		return fmt.Errorf("upsert order %s/%s: %w", order.Platform, order.ExternalID, err)
	}
	return nil
}

// GetOrderByNumber implements Store.
func (s *PgStore) GetOrderByNumber(ctx context.Context, tenantID, number string) (Order, error) {
	const q = `
		SELECT id, tenant_id, platform, external_id, number, status,
			financial_status, fulfillment_status, total, currency,
			customer_email, customer_phone, customer_name,
			tracking_number, tracking_url, placed_at, updated_at
		FROM orders
		WHERE tenant_id = $1 AND number = $2
		ORDER BY updated_at DESC
		LIMIT 1`
	var order Order
	err := s.pool.QueryRow(ctx, q, tenantID, number).Scan(
		&order.ID, &order.TenantID, &order.Platform, &order.ExternalID,
		&order.Number, &order.Status, &order.FinancialStatus,
		&order.FulfillmentStatus, &order.Total, &order.Currency,
		&order.CustomerEmail, &order.CustomerPhone, &order.CustomerName,
		&order.TrackingNumber, &order.TrackingURL, &order.PlacedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", number, err)
	}
	return order, nil
}

// CreateReturn implements Store. A second request for the same order and day
// returns the existing RMA instead of issuing a new one.
func (s *PgStore) CreateReturn(ctx context.Context, ret Return) (Return, error) {
	const q = `
		INSERT INTO returns (id, tenant_id, order_number, rma, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		ret.ID, ret.TenantID, ret.OrderNumber, ret.RMA, ret.Reason, ret.Status, ret.CreatedAt)
	if db.IsUniqueViolation(err) {
		return s.GetReturnByRMA(ctx, ret.TenantID, ret.RMA)
	}
	if err != nil {
		return Return{}, fmt.Errorf("create return %s: %w", ret.RMA, err)
	}
	return ret, nil
}

// GetReturnByRMA implements Store.
func (s *PgStore) GetReturnByRMA(ctx context.Context, tenantID, rma string) (Return, error) {
	const q = `
		SELECT id, tenant_id, order_number, rma, reason, status, created_at
		FROM returns
		WHERE tenant_id = $1 AND rma = $2`
	var ret Return
	err := s.pool.QueryRow(ctx, q, tenantID, rma).Scan(
		&ret.ID, &ret.TenantID, &ret.OrderNumber, &ret.RMA,
		&ret.Reason, &ret.Status, &ret.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, fmt.Errorf("return %s not found", rma)
	}
	if err != nil {
		return Return{}, fmt.Errorf("get return %s: %w", rma, err)
	}
	return ret, nil
}

// SearchProducts implements Store. Keyword match over title and description.
func (s *PgStore) SearchProducts(ctx context.Context, tenantID, query string, limit int) ([]Product, error) {
	const q = `
		SELECT id, tenant_id, title, description, price, currency, in_stock
		FROM products
		WHERE tenant_id = $1 AND (title ILIKE '%' || $2 || '%' OR description ILIKE '%' || $2 || '%')
		ORDER BY in_stock DESC, title ASC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, tenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search products %q: %w", query, err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Title, &p.Description,
			&p.Price, &p.Currency, &p.InStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpsertCustomer implements Store. Customers are keyed by tenant and phone;
// empty incoming fields keep the stored value.
func (s *PgStore) UpsertCustomer(ctx context.Context, customer Customer) error {
	const q = `
		INSERT INTO customers (id, tenant_id, phone, email, name, address, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), customers.email),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), customers.name),
			address = COALESCE(NULLIF(EXCLUDED.address, ''), customers.address),
			updated_at = now()`
	_, err := s.pool.Exec(ctx, q,
		customer.ID, customer.TenantID, customer.Phone,
		customer.Email, customer.Name, customer.Address)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", customer.Phone, err)
	}
	return nil
}
