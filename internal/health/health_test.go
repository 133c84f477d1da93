package health_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercontrol/covercontrol/internal/controller"
	"github.com/covercontrol/covercontrol/internal/health"
)

type fakeStore []controller.Snapshot

func (f fakeStore) Snapshots() []controller.Snapshot { return f }

func TestHealth(t *testing.T) {
	h := &health.Health{Store: fakeStore{}, Logger: slog.Default()}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	target := 100.0
	h.Store = fakeStore{{Cover: "cover.living_room", TargetPosition: &target, Reason: "scheduled_open"}}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "cover.living_room")
	assert.Contains(t, w.Body.String(), "scheduled_open")
}
