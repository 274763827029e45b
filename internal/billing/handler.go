// AngelaMos | 2026
// handler.go

package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/internal/middleware"
)

const (
	maxWebhookBodyBytes = int64(65536)
	signatureHeader     = "Stripe-Signature"
)

type Handler struct {
	service   *Service
	webhooks  *WebhookProcessor
	validator *validator.Validate
}

func NewHandler(service *Service, webhooks *WebhookProcessor) *Handler {
	return &Handler{
		service:   service,
		webhooks:  webhooks,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the webhook receiver and the customer facing
// billing endpoints. checkoutLimit may be nil.
func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, checkoutLimit func(http.Handler) http.Handler,
) {
	r.Post("/webhook/stripe", h.Webhook)
	r.Get("/stripe/plans", h.ListPlans)

	r.Group(func(r chi.Router) {
		r.Use(authenticator)

		checkout := r
		if checkoutLimit != nil {
			checkout = r.With(checkoutLimit)
		}
		checkout.Post("/stripe/create-checkout-session", h.CreateCheckoutSession)

		r.Get("/stripe/subscription", h.GetSubscription)
		r.Post("/stripe/cancel-subscription", h.CancelSubscription)
		r.Post("/stripe/resume-subscription", h.ResumeSubscription)
		r.Get("/stripe/payments", h.ListPayments)
	})
}

// Webhook must see the unparsed body; signature verification is over the
// exact bytes the provider sent.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.JSONError(w, core.SignatureInvalidError())
		return
	}

	err = h.webhooks.Process(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, core.ErrSignatureInvalid) {
			core.JSONError(w, core.SignatureInvalidError())
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	plan, err := h.service.ResolvePlan(req.PriceID, req.ProductID)
	if err != nil {
		writeError(w, err, "plan")
		return
	}

	sess, err := h.service.CreateCheckoutSession(r.Context(), userID, plan.Key)
	if err != nil {
		writeError(w, err, "user")
		return
	}

	core.OK(w, CheckoutResponse{URL: sess.URL, SessionID: sess.SessionID})
}

func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		writeError(w, err, "subscription")
		return
	}

	core.OK(w, ToSubscriptionResponse(sub))
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		writeError(w, err, "subscription")
		return
	}

	core.OK(w, ToSubscriptionResponse(sub))
}

func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, err := h.service.ResumeSubscription(r.Context(), userID)
	if err != nil {
		writeError(w, err, "subscription")
		return
	}

	core.OK(w, ToSubscriptionResponse(sub))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	params := ListPaymentsParams{
		Page:     parseIntQuery(r, "page", 1),
		PageSize: parseIntQuery(r, "page_size", 20),
	}
	params.Normalize()

	payments, total, err := h.service.ListPayments(r.Context(), userID, params)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.Paginated(
		w,
		ToPaymentResponseList(payments),
		params.Page,
		params.PageSize,
		total,
	)
}

func (h *Handler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, ToPlanResponseList(h.service.Plans()))
}

func writeError(w http.ResponseWriter, err error, resource string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, resource)
	case errors.Is(err, core.ErrInvalidInput):
		core.JSONError(w, core.ValidationError("unknown plan"))
	case errors.Is(err, core.ErrConflict):
		core.JSONError(w, core.ConflictError("an active subscription already exists"))
	case errors.Is(err, core.ErrInvalidState):
		core.JSONError(w, core.InvalidStateError(
			"subscription is not in a state that allows this operation",
		))
	case errors.Is(err, core.ErrProviderUnavailable):
		core.JSONError(w, core.ProviderUnavailableError())
	case errors.Is(err, core.ErrUnauthorized):
		core.Unauthorized(w, "")
	default:
		core.InternalServerError(w, err)
	}
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
