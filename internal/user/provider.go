// AngelaMos | 2026
// provider.go

package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/carterperez-dev/voiceagent-billing/internal/auth"
	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
)

// The methods below expose users to the auth and billing packages in
// their own vocabulary.

var (
	_ auth.UserProvider    = (*Service)(nil)
	_ billing.AccountStore = (*Service)(nil)
)

func (s *Service) GetByID(ctx context.Context, id string) (*auth.UserInfo, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*auth.UserInfo, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) Create(
	ctx context.Context,
	email, passwordHash, name string,
) (*auth.UserInfo, error) {
	u := &User{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		Name:         name,
		Role:         RoleUser,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.repo.UpdatePassword(ctx, userID, passwordHash)
}

func (s *Service) GetAccount(ctx context.Context, userID string) (*billing.Account, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toAccount(u), nil
}

// SetStripeCustomerID returns the stored id, which differs from customerID
// when another request linked a customer first.
func (s *Service) SetStripeCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	return s.repo.SetStripeCustomerID(ctx, userID, customerID)
}

func (s *Service) FindByStripeCustomerID(ctx context.Context, customerID string) (*billing.Account, error) {
	u, err := s.repo.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return toAccount(u), nil
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		CreatedAt:    u.CreatedAt,
	}
}

func toAccount(u *User) *billing.Account {
	a := &billing.Account{UserID: u.ID, Email: u.Email, Name: u.Name}
	if u.StripeCustomerID != nil {
		a.StripeCustomerID = *u.StripeCustomerID
	}
	return a
}
