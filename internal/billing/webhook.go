// AngelaMos | 2026
// webhook.go

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

type WebhookProcessor struct {
	repo      Repository
	accounts  AccountStore
	provider  Provider
	publisher Publisher
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

type WebhookConfig struct {
	Repo      Repository
	Accounts  AccountStore
	Provider  Provider
	Publisher Publisher
	Secret    string
	Tolerance time.Duration
	Logger    *slog.Logger
}

func NewWebhookProcessor(cfg WebhookConfig) *WebhookProcessor {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &WebhookProcessor{
		repo:      cfg.Repo,
		accounts:  cfg.Accounts,
		provider:  cfg.Provider,
		publisher: publisher,
		secret:    cfg.Secret,
		tolerance: tolerance,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// message is queued by a handler and published once its transaction commits.
type message struct {
	routingKey string
	body       any
}

type outcome struct {
	label    string
	messages []message
}

// Process verifies and applies one webhook delivery. A signature failure
// wraps core.ErrSignatureInvalid; any other error means the provider
// should redeliver.
func (p *WebhookProcessor) Process(
	ctx context.Context,
	payload []byte,
	signature string,
) error {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		p.secret,
		webhook.ConstructEventOptions{
			Tolerance:                p.tolerance,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		webhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		p.logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		return fmt.Errorf("verify webhook: %w", core.ErrSignatureInvalid)
	}

	eventType := string(event.Type)

	ctx, span := p.tracer.Start(ctx, "billing.webhook "+eventType,
		trace.WithAttributes(
			attribute.String("event_id", event.ID),
			attribute.String("event_type", eventType),
		),
	)
	defer span.End()

	log := p.logger.With("event_id", event.ID, "event_type", eventType)

	out, err := p.dispatch(ctx, &event, log)
	if err != nil {
		webhookEventsTotal.WithLabelValues(eventType, outcomeFailed).Inc()
		core.SetSpanError(ctx, err)
		log.ErrorContext(ctx, "webhook handler failed", "error", err)
		core.CaptureError(ctx, err)
		return fmt.Errorf("handle %s: %w", eventType, err)
	}

	webhookEventsTotal.WithLabelValues(eventType, out.label).Inc()
	span.SetAttributes(attribute.String("outcome", out.label))

	for _, m := range out.messages {
		if err := p.publisher.Publish(ctx, m.routingKey, m.body); err != nil {
			core.AddSpanEvent(ctx, "publish failed",
				attribute.String("routing_key", m.routingKey),
			)
			log.WarnContext(ctx, "publish billing event failed",
				"routing_key", m.routingKey,
				"error", err,
			)
		}
	}

	return nil
}

func (p *WebhookProcessor) dispatch(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
) (outcome, error) {
	switch event.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event, log)
	case EventInvoicePaymentSucceeded:
		return p.handleInvoicePaid(ctx, event, log)
	case EventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, event, log)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event, log)
	default:
		log.InfoContext(ctx, "ignoring unhandled webhook event")
		return outcome{label: outcomeIgnored}, nil
	}
}

func (p *WebhookProcessor) handleCheckoutCompleted(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
) (outcome, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return outcome{}, fmt.Errorf("decode checkout session: %w", err)
	}

	userID := sess.Metadata["userId"]
	planType := sess.Metadata["planType"]
	if sess.Subscription == nil || sess.Subscription.ID == "" ||
		userID == "" || planType == "" {
		log.InfoContext(ctx, "checkout session is not a subscription checkout",
			"session_id", sess.ID,
		)
		return outcome{label: outcomeSkipped}, nil
	}

	remote, err := p.provider.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return outcome{}, err
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	sub := subscriptionFromProvider(remote)
	sub.UserID = userID
	sub.PlanType = planType
	sub.LastEventAt = &eventAt
	if sub.StripeCustomerID == "" && sess.Customer != nil {
		sub.StripeCustomerID = sess.Customer.ID
	}

	payment := checkoutPayment(&sess, remote, userID)

	out := outcome{label: outcomeProcessed}
	err = p.repo.WithTx(ctx, func(tx Repository) error {
		fresh, err := tx.RecordEvent(ctx, webhookEvent(event))
		if err != nil {
			return err
		}
		if !fresh {
			out.label = outcomeDuplicate
			return nil
		}

		if _, err := tx.LockSubscription(ctx, sub.StripeSubscriptionID); err != nil &&
			!errors.Is(err, core.ErrNotFound) {
			return err
		}

		if err := tx.UpsertSubscription(ctx, sub); err != nil {
			return err
		}

		inserted, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}

		out.messages = append(out.messages, message{
			RoutingSubscriptionActivated,
			subscriptionChanged(event.ID, sub),
		})
		if inserted {
			out.messages = append(out.messages, message{
				RoutingPaymentRecorded,
				paymentRecorded(event.ID, payment),
			})
		}
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	log.InfoContext(ctx, "checkout completed",
		"user_id", userID,
		"subscription_id", sub.StripeSubscriptionID,
		"status", sub.Status,
		"outcome", out.label,
	)

	return out, nil
}

func (p *WebhookProcessor) handleInvoicePaid(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
) (outcome, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return outcome{}, fmt.Errorf("decode invoice: %w", err)
	}

	if inv.Subscription == nil || inv.Subscription.ID == "" {
		log.InfoContext(ctx, "invoice has no subscription", "invoice_id", inv.ID)
		return outcome{label: outcomeSkipped}, nil
	}
	subID := inv.Subscription.ID

	userID, err := p.resolveUser(ctx, inv.Customer)
	if err != nil {
		return outcome{}, err
	}
	if userID == "" {
		log.InfoContext(ctx, "invoice customer has no local user", "invoice_id", inv.ID)
		return outcome{label: outcomeSkipped}, nil
	}

	// Invoices can arrive before the checkout that creates the row.
	if _, err := p.repo.GetSubscriptionByStripeID(ctx, subID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			log.InfoContext(ctx, "no local subscription for invoice",
				"user_id", userID,
				"subscription_id", subID,
			)
			return outcome{label: outcomeSkipped}, nil
		}
		return outcome{}, err
	}

	remote, err := p.provider.GetSubscription(ctx, subID)
	if err != nil {
		return outcome{}, err
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	state := subscriptionFromProvider(remote)
	state.LastEventAt = &eventAt

	payment := invoicePayment(&inv, userID)

	out := outcome{label: outcomeProcessed}
	err = p.repo.WithTx(ctx, func(tx Repository) error {
		fresh, err := tx.RecordEvent(ctx, webhookEvent(event))
		if err != nil {
			return err
		}
		if !fresh {
			out.label = outcomeDuplicate
			return nil
		}

		if _, err := tx.LockSubscription(ctx, subID); err != nil {
			return err
		}

		if err := tx.UpdateSubscriptionState(ctx, state); err != nil {
			return err
		}

		inserted, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}

		out.messages = append(out.messages, message{
			RoutingSubscriptionUpdated,
			subscriptionChanged(event.ID, state),
		})
		if inserted {
			out.messages = append(out.messages, message{
				RoutingPaymentRecorded,
				paymentRecorded(event.ID, payment),
			})
		}
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	log.InfoContext(ctx, "invoice payment applied",
		"user_id", userID,
		"subscription_id", subID,
		"amount", payment.Amount,
		"outcome", out.label,
	)

	return out, nil
}

func (p *WebhookProcessor) handleSubscriptionUpdated(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
) (outcome, error) {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return outcome{}, fmt.Errorf("decode subscription: %w", err)
	}

	eventAt := time.Unix(event.Created, 0).UTC()

	return p.applySubscriptionEvent(ctx, event, log, remote.ID, func(row *Subscription) string {
		if row.Status == StatusCanceled {
			return outcomeSkipped
		}
		if row.IsStale(eventAt) {
			return outcomeStale
		}

		next := subscriptionFromProvider(&remote)
		row.Status = next.Status
		row.CurrentPeriodStart = next.CurrentPeriodStart
		row.CurrentPeriodEnd = next.CurrentPeriodEnd
		row.CancelAtPeriodEnd = next.CancelAtPeriodEnd
		row.LastEventAt = &eventAt
		return outcomeProcessed
	}, RoutingSubscriptionUpdated)
}

func (p *WebhookProcessor) handleSubscriptionDeleted(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
) (outcome, error) {
	var remote stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &remote); err != nil {
		return outcome{}, fmt.Errorf("decode subscription: %w", err)
	}

	eventAt := time.Unix(event.Created, 0).UTC()

	return p.applySubscriptionEvent(ctx, event, log, remote.ID, func(row *Subscription) string {
		if row.IsStale(eventAt) {
			return outcomeStale
		}

		row.Status = StatusCanceled
		row.CancelAtPeriodEnd = false
		row.LastEventAt = &eventAt
		return outcomeProcessed
	}, RoutingSubscriptionCanceled)
}

// applySubscriptionEvent locks the row for subID and lets mutate change it
// in place. mutate returns the outcome label; only outcomeProcessed is
// written back.
func (p *WebhookProcessor) applySubscriptionEvent(
	ctx context.Context,
	event *stripe.Event,
	log *slog.Logger,
	subID string,
	mutate func(row *Subscription) string,
	routingKey string,
) (outcome, error) {
	if subID == "" {
		return outcome{}, fmt.Errorf("subscription event without id: %w", core.ErrInvalidInput)
	}

	out := outcome{label: outcomeProcessed}
	err := p.repo.WithTx(ctx, func(tx Repository) error {
		fresh, err := tx.RecordEvent(ctx, webhookEvent(event))
		if err != nil {
			return err
		}
		if !fresh {
			out.label = outcomeDuplicate
			return nil
		}

		row, err := tx.LockSubscription(ctx, subID)
		if errors.Is(err, core.ErrNotFound) {
			out.label = outcomeSkipped
			return nil
		}
		if err != nil {
			return err
		}

		out.label = mutate(row)
		if out.label != outcomeProcessed {
			return nil
		}

		if err := tx.UpdateSubscriptionState(ctx, row); err != nil {
			return err
		}

		out.messages = append(out.messages, message{
			routingKey,
			subscriptionChanged(event.ID, row),
		})
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	log.InfoContext(ctx, "subscription event applied",
		"subscription_id", subID,
		"outcome", out.label,
	)

	return out, nil
}

// resolveUser finds the local user behind a provider customer: customer
// metadata first, then the stored customer id, then a provider lookup.
func (p *WebhookProcessor) resolveUser(
	ctx context.Context,
	cust *stripe.Customer,
) (string, error) {
	if cust == nil || cust.ID == "" {
		return "", nil
	}

	if id := cust.Metadata["userId"]; id != "" {
		return id, nil
	}

	account, err := p.accounts.FindByStripeCustomerID(ctx, cust.ID)
	if err == nil {
		return account.UserID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	remote, err := p.provider.GetCustomer(ctx, cust.ID)
	if err != nil {
		return "", err
	}

	return remote.Metadata["userId"], nil
}

func webhookEvent(event *stripe.Event) *WebhookEvent {
	return &WebhookEvent{
		ID:             event.ID,
		Type:           string(event.Type),
		EventCreatedAt: time.Unix(event.Created, 0).UTC(),
	}
}

func subscriptionFromProvider(remote *stripe.Subscription) *Subscription {
	sub := &Subscription{
		StripeSubscriptionID: remote.ID,
		Status:               normalizeStatus(string(remote.Status)),
		CurrentPeriodStart:   time.Unix(remote.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(remote.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
	}
	if remote.Customer != nil {
		sub.StripeCustomerID = remote.Customer.ID
	}
	return sub
}

func checkoutPayment(
	sess *stripe.CheckoutSession,
	remote *stripe.Subscription,
	userID string,
) *Payment {
	payment := &Payment{
		UserID:   &userID,
		Currency: "usd",
		Status:   PaymentStatusSucceeded,
	}

	if remote.Items != nil && len(remote.Items.Data) > 0 && remote.Items.Data[0].Price != nil {
		price := remote.Items.Data[0].Price
		payment.Amount = price.UnitAmount
		if price.Currency != "" {
			payment.Currency = string(price.Currency)
		}
	}

	switch {
	case remote.LatestInvoice != nil && remote.LatestInvoice.PaymentIntent != nil:
		payment.StripePaymentIntentID = remote.LatestInvoice.PaymentIntent.ID
	case sess.PaymentIntent != nil && sess.PaymentIntent.ID != "":
		payment.StripePaymentIntentID = sess.PaymentIntent.ID
	default:
		payment.StripePaymentIntentID = sess.ID
	}

	if remote.LatestInvoice != nil && remote.LatestInvoice.ID != "" {
		invoiceID := remote.LatestInvoice.ID
		payment.StripeInvoiceID = &invoiceID
	}

	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email := sess.CustomerDetails.Email
		payment.Email = &email
	}

	return payment
}

func invoicePayment(inv *stripe.Invoice, userID string) *Payment {
	invoiceID := inv.ID
	payment := &Payment{
		UserID:                &userID,
		StripePaymentIntentID: inv.ID,
		StripeInvoiceID:       &invoiceID,
		Amount:                inv.AmountPaid,
		Currency:              string(inv.Currency),
		Status:                PaymentStatusSucceeded,
	}

	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		payment.StripePaymentIntentID = inv.PaymentIntent.ID
	}
	if payment.Currency == "" {
		payment.Currency = "usd"
	}
	if inv.CustomerEmail != "" {
		email := inv.CustomerEmail
		payment.Email = &email
	}

	return payment
}
