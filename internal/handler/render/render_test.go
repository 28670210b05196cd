package render

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/service"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("wrap: %w", service.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: bad kind", service.ErrInvalidRequest), http.StatusBadRequest},
		{registry.ErrIdentityLimit, http.StatusTooManyRequests},
		{ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := Status(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, fmt.Errorf("dial tcp 10.0.0.1: refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Error)
}
