// AngelaMos | 2026
// events.go

package billing

import (
	"context"
	"time"
)

const (
	RoutingSubscriptionActivated = "billing.subscription.activated"
	RoutingSubscriptionUpdated   = "billing.subscription.updated"
	RoutingSubscriptionCanceled  = "billing.subscription.canceled"
	RoutingPaymentRecorded       = "billing.payment.recorded"
)

// Publisher is satisfied by core.Broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

type SubscriptionChanged struct {
	EventID              string    `json:"eventId"`
	UserID               string    `json:"userId"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	Status               Status    `json:"status"`
	PlanType             string    `json:"planType"`
	CancelAtPeriodEnd    bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd     time.Time `json:"currentPeriodEnd"`
}

type PaymentRecorded struct {
	EventID               string `json:"eventId"`
	UserID                string `json:"userId,omitempty"`
	StripePaymentIntentID string `json:"stripePaymentIntentId"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
}

func subscriptionChanged(eventID string, sub *Subscription) SubscriptionChanged {
	return SubscriptionChanged{
		EventID:              eventID,
		UserID:               sub.UserID,
		StripeSubscriptionID: sub.StripeSubscriptionID,
		Status:               sub.Status,
		PlanType:             sub.PlanType,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
	}
}

func paymentRecorded(eventID string, p *Payment) PaymentRecorded {
	msg := PaymentRecorded{
		EventID:               eventID,
		StripePaymentIntentID: p.StripePaymentIntentID,
		Amount:                p.Amount,
		Currency:              p.Currency,
	}
	if p.UserID != nil {
		msg.UserID = *p.UserID
	}
	return msg
}
