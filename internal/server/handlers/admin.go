package handlers

import (
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/observability"
	"github.com/docpilot/docpilot/internal/throttle"
)

// Throttles administers the process limiters.
type Throttles struct {
	Registry *throttle.Registry
}

// List reports every limiter with its queue depth and enabled flag.
func (h *Throttles) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"limiters": h.Registry.Statuses(),
	})
}

// Abort rejects queued calls. With ?name= only that limiter is aborted.
func (h *Throttles) Abort(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))

	var aborted map[string]int
	if name == "" {
		aborted = h.Registry.AbortAll()
	} else {
		control, ok := h.Registry.Get(name)
		if !ok {
			respondWithError(w, r, unknownLimiter(name))
			return
		}
		aborted = map[string]int{name: control.Abort()}
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Warn("Throttle queues aborted by admin request", zap.Any("aborted", aborted))
	}
	writeJSON(w, http.StatusOK, map[string]any{"aborted": aborted})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// Toggle turns throttling of one limiter on or off.
func (h *Throttles) Toggle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	control, ok := h.Registry.Get(name)
	if !ok {
		respondWithError(w, r, unknownLimiter(name))
		return
	}

	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.Enabled == nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("enabled is required"))
		return
	}

	control.SetEnabled(*req.Enabled)
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Throttle toggled",
			zap.String("limiter", name),
			zap.Bool("enabled", *req.Enabled))
	}
	writeJSON(w, http.StatusOK, control.Status())
}

func unknownLimiter(name string) *errors.ErrorEnvelope {
	return apperrors.NewNotFoundError("unknown limiter: " + name)
}
