// AngelaMos | 2026
// response_test.go

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSONErrorUsesAppErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"conflict", ConflictError("already subscribed"), http.StatusConflict, "CONFLICT"},
		{"invalid state", InvalidStateError("not scheduled"), http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"provider", ProviderUnavailableError(), http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
		{"signature", SignatureInvalidError(), http.StatusBadRequest, "BAD_REQUEST"},
		{"wrapped", fmt.Errorf("outer: %w", NotFoundError("subscription")), http.StatusNotFound, "NOT_FOUND"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			JSONError(rec, tt.err)

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantBody, resp.Error.Code)
		})
	}
}

func TestAppErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("cancel: %w", InvalidStateError("x"))
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.True(t, IsAppError(err))
	assert.False(t, IsAppError(ErrInvalidState))
}

func TestPaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	Paginated(rec, []int{1, 2}, 2, 2, 5)

	resp := decode(t, rec)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 3, resp.Meta.TotalPages)
	assert.Equal(t, 5, resp.Meta.Total)
}

func TestFormatValidationError(t *testing.T) {
	type body struct {
		PriceID string `validate:"required"`
		Email   string `validate:"omitempty,email"`
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(body{Email: "nope"})
	require.Error(t, err)

	msg := FormatValidationError(err)
	assert.Contains(t, msg, "priceID is required")
	assert.Contains(t, msg, "email must be a valid email")
	assert.Equal(t, "invalid request", FormatValidationError(errors.New("x")))
}
