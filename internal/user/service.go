// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, params ListUsersParams) ([]User, int, error) {
	return s.repo.List(ctx, params)
}

// modify loads the user, applies fn and persists the result.
func (s *Service) modify(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, error) {
	return s.modify(ctx, id, func(u *User) error {
		if req.Name != nil {
			u.Name = *req.Name
		}
		return nil
	})
}

func (s *Service) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	if role != RoleUser && role != RoleAdmin {
		return nil, fmt.Errorf("update role: invalid role %q: %w", role, core.ErrInvalidInput)
	}

	return s.modify(ctx, id, func(u *User) error {
		u.Role = role
		return nil
	})
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.repo.SoftDelete(ctx, id)
}

// CanDeleteUser lets users delete themselves and admins delete non-admins.
func (s *Service) CanDeleteUser(ctx context.Context, requesterID, targetID string) error {
	if requesterID == targetID {
		return nil
	}

	requester, err := s.repo.GetByID(ctx, requesterID)
	if err != nil {
		return err
	}
	if !requester.IsAdmin() {
		return fmt.Errorf("delete user: %w", core.ErrForbidden)
	}

	target, err := s.repo.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.IsAdmin() {
		return fmt.Errorf("delete user: target is admin: %w", core.ErrForbidden)
	}

	return nil
}

func requireSelf(op, userID string) error {
	if userID == "" {
		return fmt.Errorf("%s: %w", op, core.ErrUnauthorized)
	}
	return nil
}

func (s *Service) GetMe(ctx context.Context, userID string) (*User, error) {
	if err := requireSelf("get me", userID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) UpdateMe(ctx context.Context, userID string, req UpdateUserRequest) (*User, error) {
	if err := requireSelf("update me", userID); err != nil {
		return nil, err
	}
	return s.UpdateUser(ctx, userID, req)
}

func (s *Service) DeleteMe(ctx context.Context, userID string) error {
	if err := requireSelf("delete me", userID); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, userID)
}
