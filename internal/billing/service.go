// AngelaMos | 2026
// service.go

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	// SetStripeCustomerID stores customerID if the user has none yet and
	// returns whichever id is stored afterwards.
	SetStripeCustomerID(ctx context.Context, userID, customerID string) (string, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*Account, error)
}

// Locker is satisfied by core.Redis.
type Locker interface {
	TryLock(
		ctx context.Context,
		key string,
		ttl time.Duration,
	) (func(context.Context) error, bool, error)
}

const checkoutLockTTL = 30 * time.Second

type Service struct {
	repo        Repository
	accounts    AccountStore
	provider    Provider
	catalog     *Catalog
	locker      Locker
	frontendURL string
	logger      *slog.Logger
}

// ServiceConfig wires the billing service. Locker is optional; without it
// concurrent checkouts for one user are not serialized.
type ServiceConfig struct {
	Repo        Repository
	Accounts    AccountStore
	Provider    Provider
	Catalog     *Catalog
	Locker      Locker
	FrontendURL string
	Logger      *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:        cfg.Repo,
		accounts:    cfg.Accounts,
		provider:    cfg.Provider,
		catalog:     cfg.Catalog,
		locker:      cfg.Locker,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		logger:      logger,
	}
}

func (s *Service) Plans() []Plan {
	return s.catalog.List()
}

func (s *Service) ResolvePlan(priceID, productID string) (Plan, error) {
	return s.catalog.Resolve(priceID, productID)
}

// CreateCheckoutSession opens a hosted subscription checkout for the user.
// It never writes a subscription row; that happens when the provider
// confirms the checkout through a webhook.
func (s *Service) CreateCheckoutSession(
	ctx context.Context,
	userID, planKey string,
) (*CheckoutSession, error) {
	plan, ok := s.catalog.Get(planKey)
	if !ok {
		checkoutSessionsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		return nil, fmt.Errorf("checkout: unknown plan %q: %w", planKey, core.ErrInvalidInput)
	}

	account, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	unlock, err := s.lockCheckout(ctx, userID)
	if err != nil {
		checkoutSessionsTotal.WithLabelValues(plan.Key, outcomeRejected).Inc()
		return nil, err
	}
	defer unlock()

	current, err := s.repo.GetCurrentSubscription(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	if current != nil && current.Status.GrantsAccess() {
		checkoutSessionsTotal.WithLabelValues(plan.Key, outcomeRejected).Inc()
		return nil, fmt.Errorf(
			"checkout: subscription %s is %s: %w",
			current.StripeSubscriptionID,
			current.Status,
			core.ErrConflict,
		)
	}

	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		checkoutSessionsTotal.WithLabelValues(plan.Key, outcomeFailed).Inc()
		return nil, fmt.Errorf("checkout: %w", err)
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		UserID:     userID,
		PlanType:   plan.Key,
		SuccessURL: s.frontendURL + "/dashboard?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/pricing?checkout=canceled",
	})
	if err != nil {
		checkoutSessionsTotal.WithLabelValues(plan.Key, outcomeFailed).Inc()
		return nil, fmt.Errorf("checkout: %w", err)
	}

	checkoutSessionsTotal.WithLabelValues(plan.Key, outcomeProcessed).Inc()
	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", userID,
		"plan", plan.Key,
		"session_id", sess.ID,
	)

	return &CheckoutSession{URL: sess.URL, SessionID: sess.ID}, nil
}

// lockCheckout serializes checkout creation per user. Lock backend errors
// fail open.
func (s *Service) lockCheckout(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	release, ok, err := s.locker.TryLock(ctx, "billing:checkout:"+userID, checkoutLockTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "checkout lock unavailable", "user_id", userID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("checkout: already in progress: %w", core.ErrConflict)
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "checkout lock release failed", "user_id", userID, "error", err)
		}
	}, nil
}

func (s *Service) ensureCustomer(
	ctx context.Context,
	account *Account,
) (string, error) {
	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}

	created, err := s.provider.CreateCustomer(ctx, account)
	if err != nil {
		return "", err
	}

	stored, err := s.accounts.SetStripeCustomerID(ctx, account.UserID, created)
	if err != nil {
		return "", fmt.Errorf("store customer id: %w", err)
	}

	if stored != created {
		s.logger.WarnContext(ctx, "customer id already stored, discarding new one",
			"user_id", account.UserID,
			"stored", stored,
			"discarded", created,
		)
	}

	return stored, nil
}

func (s *Service) GetSubscription(
	ctx context.Context,
	userID string,
) (*Subscription, error) {
	return s.repo.GetCurrentSubscription(ctx, userID)
}

// CancelSubscription schedules the current subscription to end at the
// close of its billing period.
func (s *Service) CancelSubscription(
	ctx context.Context,
	userID string,
) (*Subscription, error) {
	current, err := s.repo.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	if current.Status == StatusCanceled {
		return nil, fmt.Errorf("cancel subscription: already canceled: %w", core.ErrInvalidState)
	}

	return s.setCancelAtPeriodEnd(ctx, current, true)
}

func (s *Service) ResumeSubscription(
	ctx context.Context,
	userID string,
) (*Subscription, error) {
	current, err := s.repo.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resume subscription: %w", err)
	}

	if !current.CancelAtPeriodEnd {
		return nil, fmt.Errorf(
			"resume subscription: no cancellation scheduled: %w",
			core.ErrInvalidState,
		)
	}

	return s.setCancelAtPeriodEnd(ctx, current, false)
}

func (s *Service) setCancelAtPeriodEnd(
	ctx context.Context,
	current *Subscription,
	cancel bool,
) (*Subscription, error) {
	_, err := s.provider.SetCancelAtPeriodEnd(ctx, current.StripeSubscriptionID, cancel)
	if err != nil {
		return nil, fmt.Errorf("set cancel at period end: %w", err)
	}

	// The customer.subscription.updated webhook reconciles this write.
	updated, err := s.repo.SetCancelAtPeriodEnd(ctx, current.ID, cancel)
	if err != nil {
		return nil, fmt.Errorf("set cancel at period end: %w", err)
	}

	s.logger.InfoContext(ctx, "subscription cancel flag changed",
		"user_id", current.UserID,
		"subscription_id", current.StripeSubscriptionID,
		"cancel_at_period_end", cancel,
	)

	return updated, nil
}

func (s *Service) ListPayments(
	ctx context.Context,
	userID string,
	params ListPaymentsParams,
) ([]Payment, int, error) {
	params.Normalize()
	return s.repo.ListPayments(ctx, userID, params.PageSize, params.Offset())
}

func (s *Service) Overview(ctx context.Context, recent int) (*Overview, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	overview := &Overview{SubscriptionsByStatus: counts}
	if recent <= 0 {
		return overview, nil
	}

	overview.RecentEvents, err = s.repo.ListEvents(ctx, recent)
	if err != nil {
		return nil, err
	}
	return overview, nil
}
