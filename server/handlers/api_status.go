package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/msgflow/buildinfo"
	"github.com/nomis52/msgflow/server/dispatcher"
	"github.com/nomis52/msgflow/store"
)

// NextSweepResponse is the JSON response for the next sweep information.
type NextSweepResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextSweep *time.Time `json:"next_sweep,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/status.
type APIStatusResponse struct {
	Build     buildinfo.Properties        `json:"build"`
	StartedAt time.Time                   `json:"started_at"`
	Hostname  string                      `json:"hostname"`
	Counts    store.Counts                `json:"counts"`
	Instances []dispatcher.InstanceStatus `json:"instances"`
	NextSweep NextSweepResponse           `json:"next_sweep"`
}

// APIStatusProvider aggregates all the providers needed for the status
// endpoint.
type APIStatusProvider interface {
	InstanceStatusProvider
	CountsProvider
	NextSweepProvider
	StartedAt() time.Time
	Hostname() string
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	logger   *slog.Logger
	provider APIStatusProvider
}

// NewAPIStatusHandler creates a new APIStatusHandler.
func NewAPIStatusHandler(logger *slog.Logger, provider APIStatusProvider) *APIStatusHandler {
	return &APIStatusHandler{
		logger:   logger,
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counts, err := h.provider.Counts(r.Context())
	if err != nil {
		h.logger.Error("failed to read store counts", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	nextSweep := h.provider.NextSweep()

	resp := APIStatusResponse{
		Build:     buildinfo.Get(),
		StartedAt: h.provider.StartedAt(),
		Hostname:  h.provider.Hostname(),
		Counts:    counts,
		Instances: h.provider.Statuses(),
		NextSweep: NextSweepResponse{
			Scheduled: nextSweep != nil,
			NextSweep: nextSweep,
		},
	}

	writeJSON(w, http.StatusOK, resp)
}
