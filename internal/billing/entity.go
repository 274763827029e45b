// AngelaMos | 2026
// entity.go

package billing

import (
	"time"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusUnpaid     Status = "unpaid"
	StatusIncomplete Status = "incomplete"
	StatusTrialing   Status = "trialing"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled,
		StatusUnpaid, StatusIncomplete, StatusTrialing:
		return true
	}
	return false
}

// GrantsAccess reports whether the subscription entitles the user to the
// paid product. A user in one of these states may not start a new checkout.
func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// normalizeStatus folds provider states outside the stored enumeration
// onto the closest local one.
func normalizeStatus(raw string) Status {
	switch s := Status(raw); {
	case s.Valid():
		return s
	case raw == "incomplete_expired":
		return StatusCanceled
	case raw == "paused":
		return StatusUnpaid
	default:
		return StatusIncomplete
	}
}

type Subscription struct {
	ID                   string     `db:"id"`
	UserID               string     `db:"user_id"`
	StripeSubscriptionID string     `db:"stripe_subscription_id"`
	StripeCustomerID     string     `db:"stripe_customer_id"`
	Status               Status     `db:"status"`
	PlanType             string     `db:"plan_type"`
	CurrentPeriodStart   time.Time  `db:"current_period_start"`
	CurrentPeriodEnd     time.Time  `db:"current_period_end"`
	CancelAtPeriodEnd    bool       `db:"cancel_at_period_end"`
	LastEventAt          *time.Time `db:"last_event_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// IsStale reports whether an event created at eventAt predates the last
// event already applied to the row.
func (s *Subscription) IsStale(eventAt time.Time) bool {
	return s.LastEventAt != nil && eventAt.Before(*s.LastEventAt)
}

const PaymentStatusSucceeded = "succeeded"

type Payment struct {
	ID                    string    `db:"id"`
	UserID                *string   `db:"user_id"`
	StripePaymentIntentID string    `db:"stripe_payment_intent_id"`
	StripeInvoiceID       *string   `db:"stripe_invoice_id"`
	Amount                int64     `db:"amount"`
	Currency              string    `db:"currency"`
	Status                string    `db:"status"`
	Email                 *string   `db:"email"`
	CreatedAt             time.Time `db:"created_at"`
}

type WebhookEvent struct {
	ID             string    `db:"id"`
	Type           string    `db:"type"`
	EventCreatedAt time.Time `db:"event_created_at"`
	ProcessedAt    time.Time `db:"processed_at"`
}

// Account is the billing view of a user.
type Account struct {
	UserID           string
	Email            string
	Name             string
	StripeCustomerID string
}

type CheckoutSession struct {
	URL       string
	SessionID string
}

type Overview struct {
	SubscriptionsByStatus map[Status]int
	RecentEvents          []WebhookEvent
}
