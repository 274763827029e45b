// AngelaMos | 2026
// dto.go

package billing

import (
	"time"
)

type CheckoutRequest struct {
	PriceID   string `json:"priceId"   validate:"required,max=255"`
	ProductID string `json:"productId" validate:"omitempty,max=255"`
}

type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type SubscriptionResponse struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"userId"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	Status               Status    `json:"status"`
	PlanType             string    `json:"planType"`
	CurrentPeriodStart   time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool      `json:"cancelAtPeriodEnd"`
	HasAccess            bool      `json:"hasAccess"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type PaymentResponse struct {
	ID                    string    `json:"id"`
	StripePaymentIntentID string    `json:"stripePaymentIntentId"`
	StripeInvoiceID       *string   `json:"stripeInvoiceId,omitempty"`
	Amount                int64     `json:"amount"`
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"createdAt"`
}

type PlanResponse struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	PriceID   string `json:"priceId"`
	ProductID string `json:"productId,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Interval  string `json:"interval"`
}

type OverviewResponse struct {
	SubscriptionsByStatus map[Status]int         `json:"subscriptionsByStatus"`
	RecentEvents          []WebhookEventResponse `json:"recentEvents"`
}

type WebhookEventResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	EventCreatedAt time.Time `json:"eventCreatedAt"`
	ProcessedAt    time.Time `json:"processedAt"`
}

type ListPaymentsParams struct {
	Page     int
	PageSize int
}

func (p *ListPaymentsParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

func (p *ListPaymentsParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

func ToSubscriptionResponse(s *Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                   s.ID,
		UserID:               s.UserID,
		StripeSubscriptionID: s.StripeSubscriptionID,
		Status:               s.Status,
		PlanType:             s.PlanType,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		HasAccess:            s.Status.GrantsAccess(),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func ToPaymentResponseList(payments []Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, PaymentResponse{
			ID:                    p.ID,
			StripePaymentIntentID: p.StripePaymentIntentID,
			StripeInvoiceID:       p.StripeInvoiceID,
			Amount:                p.Amount,
			Currency:              p.Currency,
			Status:                p.Status,
			CreatedAt:             p.CreatedAt,
		})
	}
	return out
}

func ToPlanResponseList(plans []Plan) []PlanResponse {
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanResponse(p))
	}
	return out
}

func ToOverviewResponse(o *Overview) OverviewResponse {
	events := make([]WebhookEventResponse, 0, len(o.RecentEvents))
	for _, e := range o.RecentEvents {
		events = append(events, WebhookEventResponse(e))
	}

	return OverviewResponse{
		SubscriptionsByStatus: o.SubscriptionsByStatus,
		RecentEvents:          events,
	}
}
