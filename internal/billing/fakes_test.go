// AngelaMos | 2026
// fakes_test.go

package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/mock"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// memRepository mirrors the Postgres repository semantics closely enough
// for the flows under test, including rollback on a failed WithTx.
type memRepository struct {
	txMu sync.Mutex
	mu   sync.Mutex

	clock    time.Time
	subs     map[string]*Subscription
	payments map[string]*Payment
	events   map[string]*WebhookEvent

	failUpsert error
}

func newMemRepository() *memRepository {
	return &memRepository{
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		subs:     map[string]*Subscription{},
		payments: map[string]*Payment{},
		events:   map[string]*WebhookEvent{},
	}
}

func (r *memRepository) now() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *memRepository) WithTx(
	_ context.Context,
	fn func(tx Repository) error,
) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	subs := make(map[string]*Subscription, len(r.subs))
	for k, v := range r.subs {
		cp := *v
		subs[k] = &cp
	}
	payments := make(map[string]*Payment, len(r.payments))
	for k, v := range r.payments {
		payments[k] = v
	}
	events := make(map[string]*WebhookEvent, len(r.events))
	for k, v := range r.events {
		events[k] = v
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.subs, r.payments, r.events = subs, payments, events
		r.mu.Unlock()
		return err
	}

	return nil
}

func (r *memRepository) GetCurrentSubscription(
	_ context.Context,
	userID string,
) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rows []*Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			rows = append(rows, s)
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get current subscription: %w", core.ErrNotFound)
	}

	sort.Slice(rows, func(i, j int) bool {
		li, lj := rows[i].Status != StatusCanceled, rows[j].Status != StatusCanceled
		if li != lj {
			return li
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})

	cp := *rows[0]
	return &cp, nil
}

func (r *memRepository) GetSubscriptionByStripeID(
	_ context.Context,
	stripeID string,
) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[stripeID]
	if !ok {
		return nil, fmt.Errorf("get subscription: %w", core.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r *memRepository) LockSubscription(
	ctx context.Context,
	stripeID string,
) (*Subscription, error) {
	return r.GetSubscriptionByStripeID(ctx, stripeID)
}

func (r *memRepository) UpsertSubscription(
	_ context.Context,
	sub *Subscription,
) error {
	if r.failUpsert != nil {
		return r.failUpsert
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	row, ok := r.subs[sub.StripeSubscriptionID]
	if !ok {
		row = &Subscription{ID: uuid.New().String(), CreatedAt: now}
		r.subs[sub.StripeSubscriptionID] = row
	}

	lastEventAt := greatest(row.LastEventAt, sub.LastEventAt)
	id, createdAt := row.ID, row.CreatedAt
	*row = *sub
	row.ID = id
	row.CreatedAt = createdAt
	row.UpdatedAt = now
	row.LastEventAt = lastEventAt

	*sub = *row
	return nil
}

func (r *memRepository) UpdateSubscriptionState(
	_ context.Context,
	sub *Subscription,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.subs[sub.StripeSubscriptionID]
	if !ok {
		return fmt.Errorf("update subscription: %w", core.ErrNotFound)
	}

	row.Status = sub.Status
	row.CurrentPeriodStart = sub.CurrentPeriodStart
	row.CurrentPeriodEnd = sub.CurrentPeriodEnd
	row.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	row.LastEventAt = greatest(row.LastEventAt, sub.LastEventAt)
	row.UpdatedAt = r.now()

	*sub = *row
	return nil
}

func (r *memRepository) SetCancelAtPeriodEnd(
	_ context.Context,
	id string,
	cancel bool,
) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.subs {
		if row.ID == id {
			row.CancelAtPeriodEnd = cancel
			row.UpdatedAt = r.now()
			cp := *row
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("set cancel at period end: %w", core.ErrNotFound)
}

func (r *memRepository) InsertPayment(
	_ context.Context,
	payment *Payment,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.StripePaymentIntentID]; ok {
		return false, nil
	}

	cp := *payment
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = r.now()
	r.payments[payment.StripePaymentIntentID] = &cp
	return true, nil
}

func (r *memRepository) ListPayments(
	_ context.Context,
	userID string,
	limit, offset int,
) ([]Payment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Payment
	for _, p := range r.payments {
		if p.UserID != nil && *p.UserID == userID {
			all = append(all, *p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memRepository) RecordEvent(
	_ context.Context,
	event *WebhookEvent,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[event.ID]; ok {
		return false, nil
	}

	cp := *event
	cp.ProcessedAt = r.now()
	r.events[event.ID] = &cp
	return true, nil
}

func (r *memRepository) ListEvents(
	_ context.Context,
	limit int,
) ([]WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]WebhookEvent, 0, len(r.events))
	for _, e := range r.events {
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ProcessedAt.After(events[j].ProcessedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *memRepository) CountByStatus(_ context.Context) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[Status]int{}
	for _, s := range r.subs {
		counts[s.Status]++
	}
	return counts, nil
}

func (r *memRepository) insert(sub Subscription) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.now()
	}
	sub.UpdatedAt = sub.CreatedAt
	r.subs[sub.StripeSubscriptionID] = &sub
	cp := sub
	return &cp
}

func (r *memRepository) subscription(stripeID string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[stripeID]
	if !ok {
		return Subscription{}, false
	}
	return *s, true
}

func (r *memRepository) counts() (subs, payments, events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs), len(r.payments), len(r.events)
}

func (r *memRepository) payment(intentID string) (Payment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[intentID]
	if !ok {
		return Payment{}, false
	}
	return *p, true
}

func greatest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
	setCalls int
}

func newMemAccounts(accounts ...*Account) *memAccounts {
	m := &memAccounts{accounts: map[string]*Account{}}
	for _, a := range accounts {
		m.accounts[a.UserID] = a
	}
	return m
}

func (m *memAccounts) GetAccount(_ context.Context, userID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("get account: %w", core.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) SetStripeCustomerID(
	_ context.Context,
	userID, customerID string,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCalls++
	a, ok := m.accounts[userID]
	if !ok {
		return "", fmt.Errorf("set customer id: %w", core.ErrNotFound)
	}
	if a.StripeCustomerID == "" {
		a.StripeCustomerID = customerID
	}
	return a.StripeCustomerID, nil
}

func (m *memAccounts) FindByStripeCustomerID(
	_ context.Context,
	customerID string,
) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.StripeCustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("find account: %w", core.ErrNotFound)
}

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) CreateCustomer(ctx context.Context, account *Account) (string, error) {
	args := m.Called(ctx, account)
	return args.String(0), args.Error(1)
}

func (m *ProviderMock) GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	args := m.Called(ctx, customerID)
	cust, _ := args.Get(0).(*stripe.Customer)
	return cust, args.Error(1)
}

func (m *ProviderMock) CreateCheckoutSession(
	ctx context.Context,
	params CheckoutParams,
) (*stripe.CheckoutSession, error) {
	args := m.Called(ctx, params)
	sess, _ := args.Get(0).(*stripe.CheckoutSession)
	return sess, args.Error(1)
}

func (m *ProviderMock) GetSubscription(
	ctx context.Context,
	subscriptionID string,
) (*stripe.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*stripe.Subscription)
	return sub, args.Error(1)
}

func (m *ProviderMock) SetCancelAtPeriodEnd(
	ctx context.Context,
	subscriptionID string,
	cancel bool,
) (*stripe.Subscription, error) {
	args := m.Called(ctx, subscriptionID, cancel)
	sub, _ := args.Get(0).(*stripe.Subscription)
	return sub, args.Error(1)
}

type published struct {
	routingKey string
	body       any
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{routingKey, body})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		keys = append(keys, m.routingKey)
	}
	return keys
}
