// AngelaMos | 2026
// repository.go

package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type Repository interface {
	GetCurrentSubscription(ctx context.Context, userID string) (*Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*Subscription, error)
	LockSubscription(ctx context.Context, stripeID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscriptionState(ctx context.Context, sub *Subscription) error
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*Subscription, error)
	InsertPayment(ctx context.Context, payment *Payment) (bool, error)
	ListPayments(ctx context.Context, userID string, limit, offset int) ([]Payment, int, error)
	RecordEvent(ctx context.Context, event *WebhookEvent) (bool, error)
	ListEvents(ctx context.Context, limit int) ([]WebhookEvent, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

const subscriptionColumns = `
	id, user_id, stripe_subscription_id, stripe_customer_id, status, plan_type,
	current_period_start, current_period_end, cancel_at_period_end,
	last_event_at, created_at, updated_at`

type repository struct {
	db   core.DBTX
	conn *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db, conn: db}
}

// WithTx runs fn against a repository bound to a single transaction. Calls
// on an already transactional repository reuse the open transaction.
func (r *repository) WithTx(
	ctx context.Context,
	fn func(tx Repository) error,
) error {
	if r.conn == nil {
		return fn(r)
	}

	return core.InTx(ctx, r.conn, func(tx *sqlx.Tx) error {
		return fn(&repository{db: tx})
	})
}

// GetCurrentSubscription returns the newest non-canceled row for the user,
// or the newest row when every subscription has been canceled.
func (r *repository) GetCurrentSubscription(
	ctx context.Context,
	userID string,
) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY (status <> 'canceled') DESC, created_at DESC, id DESC
		LIMIT 1`

	return r.getSubscription(ctx, "get current subscription", query, userID)
}

func (r *repository) GetSubscriptionByStripeID(
	ctx context.Context,
	stripeID string,
) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE stripe_subscription_id = $1`

	return r.getSubscription(ctx, "get subscription", query, stripeID)
}

// LockSubscription reads the row FOR UPDATE. Only meaningful inside WithTx.
func (r *repository) LockSubscription(
	ctx context.Context,
	stripeID string,
) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE stripe_subscription_id = $1
		FOR UPDATE`

	return r.getSubscription(ctx, "lock subscription", query, stripeID)
}

func (r *repository) getSubscription(
	ctx context.Context,
	op, query string,
	arg any,
) (*Subscription, error) {
	var sub Subscription
	err := r.db.GetContext(ctx, &sub, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &sub, nil
}

func (r *repository) UpsertSubscription(
	ctx context.Context,
	sub *Subscription,
) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	query := `
		INSERT INTO subscriptions (
			id, user_id, stripe_subscription_id, stripe_customer_id, status,
			plan_type, current_period_start, current_period_end,
			cancel_at_period_end, last_event_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			plan_type = EXCLUDED.plan_type,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			last_event_at = GREATEST(subscriptions.last_event_at, EXCLUDED.last_event_at),
			updated_at = NOW()
		RETURNING ` + subscriptionColumns

	err := r.db.GetContext(ctx, sub, query,
		sub.ID,
		sub.UserID,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.Status,
		sub.PlanType,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	return nil
}

// UpdateSubscriptionState overwrites status, period and cancel flag of an
// existing row identified by its stripe subscription id.
func (r *repository) UpdateSubscriptionState(
	ctx context.Context,
	sub *Subscription,
) error {
	query := `
		UPDATE subscriptions
		SET status = $2,
		    current_period_start = $3,
		    current_period_end = $4,
		    cancel_at_period_end = $5,
		    last_event_at = GREATEST(last_event_at, $6),
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
		RETURNING ` + subscriptionColumns

	err := r.db.GetContext(ctx, sub, query,
		sub.StripeSubscriptionID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.LastEventAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update subscription: %w", core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}

	return nil
}

func (r *repository) SetCancelAtPeriodEnd(
	ctx context.Context,
	id string,
	cancel bool,
) (*Subscription, error) {
	query := `
		UPDATE subscriptions
		SET cancel_at_period_end = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + subscriptionColumns

	var sub Subscription
	err := r.db.GetContext(ctx, &sub, query, id, cancel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("set cancel at period end: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("set cancel at period end: %w", err)
	}

	return &sub, nil
}

// InsertPayment appends a ledger row. It reports false when a payment with
// the same intent id is already recorded.
func (r *repository) InsertPayment(
	ctx context.Context,
	payment *Payment,
) (bool, error) {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}

	query := `
		INSERT INTO payments (
			id, user_id, stripe_payment_intent_id, stripe_invoice_id,
			amount, currency, status, email
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stripe_payment_intent_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.UserID,
		payment.StripePaymentIntentID,
		payment.StripeInvoiceID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Email,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}

	return rows > 0, nil
}

func (r *repository) ListPayments(
	ctx context.Context,
	userID string,
	limit, offset int,
) ([]Payment, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	query := `
		SELECT id, user_id, stripe_payment_intent_id, stripe_invoice_id,
		       amount, currency, status, email, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	var payments []Payment
	if err := r.db.SelectContext(ctx, &payments, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	return payments, total, nil
}

// RecordEvent stores a processed webhook event id. It reports false when
// the id was already recorded.
func (r *repository) RecordEvent(
	ctx context.Context,
	event *WebhookEvent,
) (bool, error) {
	query := `
		INSERT INTO stripe_webhook_events (id, type, event_created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.EventCreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}

	return rows > 0, nil
}

func (r *repository) ListEvents(
	ctx context.Context,
	limit int,
) ([]WebhookEvent, error) {
	query := `
		SELECT id, type, event_created_at, processed_at
		FROM stripe_webhook_events
		ORDER BY processed_at DESC
		LIMIT $1`

	var events []WebhookEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	return events, nil
}

func (r *repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}

	query := `SELECT status, COUNT(*) AS count FROM subscriptions GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}

	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
