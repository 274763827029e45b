// AngelaMos | 2026
// provider.go

package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

const tracerName = "voiceagent-billing/billing"

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	PlanType   string
	SuccessURL string
	CancelURL  string
}

// Provider is the subset of the payment provider API the billing flows use.
// Every error it returns wraps core.ErrProviderUnavailable.
type Provider interface {
	CreateCustomer(ctx context.Context, account *Account) (string, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	CreateCheckoutSession(
		ctx context.Context,
		params CheckoutParams,
	) (*stripe.CheckoutSession, error)
	GetSubscription(
		ctx context.Context,
		subscriptionID string,
	) (*stripe.Subscription, error)
	SetCancelAtPeriodEnd(
		ctx context.Context,
		subscriptionID string,
		cancel bool,
	) (*stripe.Subscription, error)
}

type StripeProvider struct {
	api    *client.API
	tracer trace.Tracer
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{
		api:    client.New(secretKey, nil),
		tracer: otel.Tracer(tracerName),
	}
}

func (p *StripeProvider) CreateCustomer(
	ctx context.Context,
	account *Account,
) (string, error) {
	ctx, span := p.start(ctx, "stripe.customers.create")
	defer span.End()

	params := &stripe.CustomerParams{
		Email: stripe.String(account.Email),
	}
	if account.Name != "" {
		params.Name = stripe.String(account.Name)
	}
	params.Context = ctx
	params.AddMetadata("userId", account.UserID)
	params.SetIdempotencyKey("customer-" + account.UserID)

	cust, err := p.api.Customers.New(params)
	if err != nil {
		return "", p.fail(span, "create customer", err)
	}

	return cust.ID, nil
}

func (p *StripeProvider) GetCustomer(
	ctx context.Context,
	customerID string,
) (*stripe.Customer, error) {
	ctx, span := p.start(ctx, "stripe.customers.get")
	defer span.End()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := p.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, p.fail(span, "get customer", err)
	}

	return cust, nil
}

func (p *StripeProvider) CreateCheckoutSession(
	ctx context.Context,
	in CheckoutParams,
) (*stripe.CheckoutSession, error) {
	ctx, span := p.start(ctx, "stripe.checkout.sessions.create")
	defer span.End()

	metadata := map[string]string{
		"userId":   in.UserID,
		"planType": in.PlanType,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(in.CustomerID),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, p.fail(span, "create checkout session", err)
	}

	return sess, nil
}

func (p *StripeProvider) GetSubscription(
	ctx context.Context,
	subscriptionID string,
) (*stripe.Subscription, error) {
	ctx, span := p.start(ctx, "stripe.subscriptions.get")
	defer span.End()
	span.SetAttributes(attribute.String("subscription_id", subscriptionID))

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, p.fail(span, "get subscription", err)
	}

	return sub, nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(
	ctx context.Context,
	subscriptionID string,
	cancel bool,
) (*stripe.Subscription, error) {
	ctx, span := p.start(ctx, "stripe.subscriptions.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("subscription_id", subscriptionID),
		attribute.Bool("cancel_at_period_end", cancel),
	)

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, p.fail(span, "update subscription", err)
	}

	return sub, nil
}

func (p *StripeProvider) start(
	ctx context.Context,
	name string,
) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

func (p *StripeProvider) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return fmt.Errorf("%s: %w: %w", op, core.ErrProviderUnavailable, err)
}

var _ Provider = (*StripeProvider)(nil)
