// AngelaMos | 2026
// handler.go

package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/internal/middleware"
)

const adminRecentPayments = 10

// BillingLookup is the read side of billing shown to admins.
type BillingLookup interface {
	GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
	ListPayments(
		ctx context.Context,
		userID string,
		params billing.ListPaymentsParams,
	) ([]billing.Payment, int, error)
}

type Handler struct {
	service   *Service
	billing   BillingLookup
	validator *validator.Validate
}

func NewHandler(service *Service, lookup BillingLookup) *Handler {
	return &Handler{
		service:   service,
		billing:   lookup,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Route("/users/me", func(r chi.Router) {
		r.Use(authenticator)

		r.Get("/", h.GetMe)
		r.Put("/", h.UpdateMe)
		r.Delete("/", h.DeleteMe)
	})
}

func (h *Handler) RegisterAdminRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/users", func(r chi.Router) {
		r.Use(authenticator, adminOnly)

		r.Get("/", h.ListUsers)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Put("/", h.UpdateUser)
			r.Delete("/", h.DeleteUser)
			r.Put("/role", h.UpdateUserRole)
			r.Get("/billing", h.GetUserBilling)
		})
	})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetMe(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	core.OK(w, ToUserResponse(u))
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateMe(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	core.OK(w, ToUserResponse(u))
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMe(r.Context(), middleware.GetUserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	core.NoContent(w)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := ListUsersParams{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", 20),
		Search:   q.Get("search"),
		Role:     q.Get("role"),
	}

	users, total, err := h.service.ListUsers(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	params.Normalize()
	core.Paginated(w, ToUserResponseList(users), params.Page, params.PageSize, total)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	core.OK(w, ToUserResponse(u))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateUser(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	core.OK(w, ToUserResponse(u))
}

func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRoleRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.UpdateUserRole(r.Context(), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	core.OK(w, ToUserResponse(u))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	targetID := chi.URLParam(r, "userID")

	if err := h.service.CanDeleteUser(ctx, middleware.GetUserID(ctx), targetID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.DeleteUser(ctx, targetID); err != nil {
		writeError(w, err)
		return
	}
	core.NoContent(w)
}

// GetUserBilling shows support staff the user's current subscription and
// latest payments. A user without a subscription gets a null subscription.
func (h *Handler) GetUserBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u, err := h.service.GetUser(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := UserBillingResponse{User: ToUserResponse(u)}

	sub, err := h.billing.GetSubscription(ctx, u.ID)
	switch {
	case err == nil:
		s := billing.ToSubscriptionResponse(sub)
		resp.Subscription = &s
	case !errors.Is(err, core.ErrNotFound):
		writeError(w, err)
		return
	}

	payments, total, err := h.billing.ListPayments(ctx, u.ID, billing.ListPaymentsParams{
		Page:     1,
		PageSize: adminRecentPayments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp.RecentPayments = billing.ToPaymentResponseList(payments)
	resp.TotalPayments = total

	core.OK(w, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		core.BadRequest(w, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case core.IsAppError(err):
		core.JSONError(w, err)
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	case errors.Is(err, core.ErrUnauthorized):
		core.Unauthorized(w, "")
	case errors.Is(err, core.ErrForbidden):
		core.Forbidden(w, "insufficient permissions")
	case errors.Is(err, core.ErrInvalidInput):
		core.BadRequest(w, "invalid role")
	default:
		core.InternalServerError(w, err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}
