package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/nomis52/msgflow/store"
)

// LimitedProfile is the restricted view of a recipient profile exposed
// to sender services: whether this sender may reach the recipient, and
// the recipient's preferred languages. Addresses are never exposed.
type LimitedProfile struct {
	SenderAllowed      bool     `json:"sender_allowed"`
	PreferredLanguages []string `json:"preferred_languages,omitempty"`
}

// GetProfileHandler handles GET /api/profiles/{recipientID}.
type GetProfileHandler struct {
	profiles ProfileStore
}

// NewGetProfileHandler creates a new GetProfileHandler.
func NewGetProfileHandler(profiles ProfileStore) *GetProfileHandler {
	return &GetProfileHandler{
		profiles: profiles,
	}
}

// ServeHTTP implements http.Handler.
func (h *GetProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("service_id")
	if serviceID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "service_id query parameter is required"})
		return
	}

	writeLimitedProfile(w, r, h.profiles, r.PathValue("recipientID"), serviceID)
}

// ProfileLookupRequest is the body for POST /api/profiles. The POST
// variant keeps the recipient ID out of URLs and access logs.
type ProfileLookupRequest struct {
	RecipientID string `json:"recipient_id"`
	ServiceID   string `json:"service_id"`
}

// GetProfileByPOSTHandler handles POST /api/profiles.
type GetProfileByPOSTHandler struct {
	profiles ProfileStore
}

// NewGetProfileByPOSTHandler creates a new GetProfileByPOSTHandler.
func NewGetProfileByPOSTHandler(profiles ProfileStore) *GetProfileByPOSTHandler {
	return &GetProfileByPOSTHandler{
		profiles: profiles,
	}
}

// ServeHTTP implements http.Handler.
func (h *GetProfileByPOSTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ProfileLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.RecipientID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "recipient_id is required"})
		return
	}
	if req.ServiceID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "service_id is required"})
		return
	}

	writeLimitedProfile(w, r, h.profiles, req.RecipientID, req.ServiceID)
}

func writeLimitedProfile(w http.ResponseWriter, r *http.Request, profiles ProfileStore, recipientID, serviceID string) {
	profile, err := profiles.GetProfile(r.Context(), recipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "profile not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	allowed := profile.MasterInboxEnabled &&
		!slices.Contains(profile.BlockedFor(serviceID), store.BlockInbox)

	writeJSON(w, http.StatusOK, LimitedProfile{
		SenderAllowed:      allowed,
		PreferredLanguages: profile.PreferredLanguages,
	})
}
