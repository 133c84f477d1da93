// Package health serves the controller's per-cover state as JSON for
// liveness probes and debugging.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/covercontrol/covercontrol/internal/controller"
)

// Store provides the last published state of all covers.
type Store interface {
	Snapshots() []controller.Snapshot
}

type Health struct {
	Store  Store
	Logger *slog.Logger
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshots := h.Store.Snapshots()
	if len(snapshots) == 0 {
		http.Error(w, "no cover state yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshots); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
