package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-board/domain"
)

// schema is applied statement by statement by Provision.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		tenant_id         TEXT NOT NULL,
		upstream_order_id TEXT NOT NULL,
		id                TEXT NOT NULL,
		delivery_date     TEXT NOT NULL,
		payload           JSONB NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, upstream_order_id)
	)`,
	`CREATE INDEX IF NOT EXISTS orders_delivery_date_idx ON orders (tenant_id, delivery_date)`,
	`CREATE TABLE IF NOT EXISTS card_states (
		tenant_id     TEXT NOT NULL,
		card_id       TEXT NOT NULL,
		delivery_date TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'unassigned',
		assigned_to   TEXT NOT NULL DEFAULT '',
		assigned_by   TEXT NOT NULL DEFAULT '',
		notes         TEXT NOT NULL DEFAULT '',
		sort_order    INTEGER NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, card_id, delivery_date)
	)`,
	`CREATE INDEX IF NOT EXISTS card_states_updated_at_idx ON card_states (tenant_id, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS card_states_delivery_date_idx ON card_states (tenant_id, delivery_date)`,
	`CREATE TABLE IF NOT EXISTS label_associations (
		tenant_id  TEXT NOT NULL,
		product_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		labels     JSONB NOT NULL DEFAULT '[]',
		PRIMARY KEY (tenant_id, product_id, variant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		tenant_id  TEXT NOT NULL,
		id         TEXT NOT NULL,
		name       TEXT NOT NULL,
		prefix     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
}

// Postgres persists the same data as Tables in PostgreSQL. Card state
// upserts are a single INSERT ... ON CONFLICT statement.
type Postgres struct {
	pool  *pgxpool.Pool
	clock *Clock
}

// NewPostgres connects a pool to the given database URL.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, clock: NewClock()}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Provision creates the schema if it does not exist.
func (p *Postgres) Provision(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const upsertStateSQL = `
INSERT INTO card_states (tenant_id, card_id, delivery_date, status, assigned_to, assigned_by, notes, sort_order, updated_at)
VALUES ($1, $2, $3, COALESCE($4, 'unassigned'), COALESCE($5, ''), COALESCE($6, ''), COALESCE($7, ''), COALESCE($8, 0), $9)
ON CONFLICT (tenant_id, card_id, delivery_date) DO UPDATE SET
	status      = COALESCE($4, card_states.status),
	assigned_to = COALESCE($5, card_states.assigned_to),
	assigned_by = COALESCE($6, card_states.assigned_by),
	notes       = COALESCE($7, card_states.notes),
	sort_order  = COALESCE($8, card_states.sort_order),
	updated_at  = GREATEST($9, card_states.updated_at + interval '1 microsecond')
RETURNING status, assigned_to, assigned_by, notes, sort_order, updated_at`

// Upsert merges patch onto the stored row in one statement. updated_at never
// moves backwards even when writers run on different hosts.
func (p *Postgres) Upsert(ctx context.Context, tenantID, cardID, deliveryDate string, patch domain.StatePatch) (domain.CardState, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	st := domain.CardState{TenantID: tenantID, CardID: cardID, DeliveryDate: deliveryDate}
	var rawStatus string
	err := p.pool.QueryRow(ctx, upsertStateSQL,
		tenantID, cardID, deliveryDate,
		status, patch.AssignedTo, patch.AssignedBy, patch.Notes, patch.SortOrder,
		p.clock.Next(),
	).Scan(&rawStatus, &st.AssignedTo, &st.AssignedBy, &st.Notes, &st.SortOrder, &st.UpdatedAt)
	if err != nil {
		return domain.CardState{}, fmt.Errorf("upsert card state: %w", err)
	}
	st.Status = domain.Status(rawStatus)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

const stateColumns = `tenant_id, card_id, delivery_date, status, assigned_to, assigned_by, notes, sort_order, updated_at`

func scanState(row pgx.Row) (domain.CardState, error) {
	var (
		st     domain.CardState
		status string
	)
	if err := row.Scan(&st.TenantID, &st.CardID, &st.DeliveryDate, &status, &st.AssignedTo, &st.AssignedBy, &st.Notes, &st.SortOrder, &st.UpdatedAt); err != nil {
		return domain.CardState{}, err
	}
	st.Status = domain.Status(status)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// Get returns the stored card state, if any.
func (p *Postgres) Get(ctx context.Context, tenantID, cardID, deliveryDate string) (domain.StoredState, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM card_states WHERE tenant_id = $1 AND card_id = $2 AND delivery_date = $3`, tenantID, cardID, deliveryDate)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredState{}, nil
		}
		return domain.StoredState{}, fmt.Errorf("get card state: %w", err)
	}
	return domain.Present(st), nil
}

func (p *Postgres) queryStates(ctx context.Context, sql string, args ...any) ([]domain.CardState, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CardState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetAllForDate returns every card state of a delivery date keyed by card id.
func (p *Postgres) GetAllForDate(ctx context.Context, tenantID, deliveryDate string) (map[string]domain.CardState, error) {
	states, err := p.queryStates(ctx, `SELECT `+stateColumns+` FROM card_states WHERE tenant_id = $1 AND delivery_date = $2`, tenantID, deliveryDate)
	if err != nil {
		return nil, fmt.Errorf("list card states: %w", err)
	}
	out := make(map[string]domain.CardState, len(states))
	for _, st := range states {
		out[st.CardID] = st
	}
	return out, nil
}

// GetChangedSince returns rows updated after since, newest first.
func (p *Postgres) GetChangedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.CardState, error) {
	states, err := p.queryStates(ctx, `SELECT `+stateColumns+` FROM card_states WHERE tenant_id = $1 AND updated_at > $2 ORDER BY updated_at DESC`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("list changed card states: %w", err)
	}
	return states, nil
}

// ClearDate deletes every card state of a delivery date.
func (p *Postgres) ClearDate(ctx context.Context, tenantID, deliveryDate string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM card_states WHERE tenant_id = $1 AND delivery_date = $2`, tenantID, deliveryDate)
	if err != nil {
		return 0, fmt.Errorf("clear card states: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetOrder returns an order by its upstream id.
func (p *Postgres) GetOrder(ctx context.Context, tenantID, upstreamOrderID string) (domain.Order, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM orders WHERE tenant_id = $1 AND upstream_order_id = $2`, tenantID, upstreamOrderID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("order %s: %w", upstreamOrderID, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	var o domain.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", upstreamOrderID, err)
	}
	return o, nil
}

// UpsertOrder creates or updates an order row. created_at is kept from the
// first insert.
func (p *Postgres) UpsertOrder(ctx context.Context, o domain.Order) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO orders (tenant_id, upstream_order_id, id, delivery_date, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, upstream_order_id) DO UPDATE SET
	delivery_date = EXCLUDED.delivery_date,
	payload       = EXCLUDED.payload,
	updated_at    = EXCLUDED.updated_at`,
		o.TenantID, o.UpstreamOrderID, o.ID, o.DeliveryDate, payload, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// ListOrdersForDate returns the orders due on a delivery date.
func (p *Postgres) ListOrdersForDate(ctx context.Context, tenantID, deliveryDate string) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `SELECT payload FROM orders WHERE tenant_id = $1 AND delivery_date = $2`, tenantID, deliveryDate)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	orders := []domain.Order{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListLabelAssociations returns every product label association of a tenant.
func (p *Postgres) ListLabelAssociations(ctx context.Context, tenantID string) ([]domain.LabelAssociation, error) {
	rows, err := p.pool.Query(ctx, `SELECT product_id, variant_id, labels FROM label_associations WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()
	var out []domain.LabelAssociation
	for rows.Next() {
		var (
			a   domain.LabelAssociation
			raw []byte
		)
		if err := rows.Scan(&a.ProductID, &a.VariantID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &a.Labels); err != nil {
			return nil, fmt.Errorf("decode labels of %s: %w", a.ProductID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStores returns a tenant's stores.
func (p *Postgres) ListStores(ctx context.Context, tenantID string) ([]domain.Store, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, prefix, created_at FROM stores WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()
	var out []domain.Store
	for rows.Next() {
		s := domain.Store{TenantID: tenantID}
		if err := rows.Scan(&s.ID, &s.Name, &s.Prefix, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
