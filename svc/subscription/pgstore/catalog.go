package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingcore/pkg/pg"
	"github.com/dmitrymomot/billingcore/svc/subscription"
)

// Catalog implements subscription.OwnerDirectory and subscription.PlanCatalog
// on the billing_owners and billing_plans tables.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

var (
	_ subscription.OwnerDirectory = (*Catalog)(nil)
	_ subscription.PlanCatalog    = (*Catalog)(nil)
)

func (c *Catalog) GetOwner(ctx context.Context, id uuid.UUID) (*subscription.Owner, error) {
	o := subscription.Owner{ID: id}
	err := c.pool.QueryRow(ctx, `SELECT email FROM billing_owners WHERE id = $1`, id).Scan(&o.Email)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrOwnerNotFound
		}
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}
	return &o, nil
}

// UpsertOwner registers an owner or updates its email.
func (c *Catalog) UpsertOwner(ctx context.Context, o subscription.Owner) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO billing_owners (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`,
		o.ID, o.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert owner: %w", err)
	}
	return nil
}

func (c *Catalog) GetPlan(ctx context.Context, id string) (*subscription.Plan, error) {
	var p subscription.Plan
	err := c.pool.QueryRow(ctx, `
		SELECT id, name, amount, currency, frequency, frequency_type, remote_price_id, remote_product, active
		FROM billing_plans WHERE id = $1`, id,
	).Scan(
		&p.ID, &p.Name, &p.Price.Amount, &p.Price.Currency,
		&p.Recurrence.Frequency, &p.Recurrence.FrequencyType,
		&p.RemotePriceID, &p.RemoteProduct, &p.Active,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrPlanNotFoundOrInactive
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	p.Recurrence.Amount = p.Price.Amount
	p.Recurrence.Currency = p.Price.Currency
	return &p, nil
}

// UpsertPlan creates or replaces a plan.
func (c *Catalog) UpsertPlan(ctx context.Context, p subscription.Plan) error {
	freq := max(p.Recurrence.Frequency, 1)
	freqType := p.Recurrence.FrequencyType
	if freqType == "" {
		freqType = subscription.FrequencyMonths
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO billing_plans (id, name, amount, currency, frequency, frequency_type, remote_price_id, remote_product, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			frequency = EXCLUDED.frequency,
			frequency_type = EXCLUDED.frequency_type,
			remote_price_id = EXCLUDED.remote_price_id,
			remote_product = EXCLUDED.remote_product,
			active = EXCLUDED.active`,
		p.ID, p.Name, p.Price.Amount, p.Price.Currency, freq, freqType, p.RemotePriceID, p.RemoteProduct, p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}
