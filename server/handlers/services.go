package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nomis52/msgflow/store"
)

// CreateServiceRequest defines the request body for POST /api/services.
type CreateServiceRequest struct {
	Name             string `json:"name"`
	OrganizationName string `json:"organization_name"`
	DepartmentName   string `json:"department_name"`
}

// ServiceResponse describes a registered service. Key material is never
// included.
type ServiceResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OrganizationName string    `json:"organization_name"`
	DepartmentName   string    `json:"department_name"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ServiceKeysResponse carries freshly generated subscription keys. The
// keys are stored hashed and cannot be retrieved again.
type ServiceKeysResponse struct {
	ServiceResponse
	PrimaryKey   string `json:"primary_key"`
	SecondaryKey string `json:"secondary_key"`
}

// CreateServiceHandler handles POST /api/services.
type CreateServiceHandler struct {
	logger   *slog.Logger
	services ServiceStore
}

// NewCreateServiceHandler creates a new CreateServiceHandler.
func NewCreateServiceHandler(logger *slog.Logger, services ServiceStore) *CreateServiceHandler {
	return &CreateServiceHandler{
		logger:   logger,
		services: services,
	}
}

// ServeHTTP implements http.Handler.
func (h *CreateServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "service name is required"})
		return
	}

	primary, primaryHash, err := newSubscriptionKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	secondary, secondaryHash, err := newSubscriptionKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	service := store.Service{
		ID:               uuid.NewString(),
		Name:             req.Name,
		OrganizationName: req.OrganizationName,
		DepartmentName:   req.DepartmentName,
		PrimaryKeyHash:   primaryHash,
		SecondaryKeyHash: secondaryHash,
	}
	if err := h.services.CreateService(r.Context(), service); err != nil {
		h.logger.Error("failed to create service", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("service created", "service_id", service.ID, "name", service.Name)

	created, err := h.services.GetService(r.Context(), service.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ServiceKeysResponse{
		ServiceResponse: serviceResponse(created),
		PrimaryKey:      primary,
		SecondaryKey:    secondary,
	})
}

// GetServiceHandler handles GET /api/services/{id}.
type GetServiceHandler struct {
	services ServiceStore
}

// NewGetServiceHandler creates a new GetServiceHandler.
func NewGetServiceHandler(services ServiceStore) *GetServiceHandler {
	return &GetServiceHandler{
		services: services,
	}
}

// ServeHTTP implements http.Handler.
func (h *GetServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service, err := h.services.GetService(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "service not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, serviceResponse(service))
}

// RotateServiceKeysHandler handles PUT /api/services/{id}/keys.
// Both subscription keys are regenerated; the old keys stop working.
type RotateServiceKeysHandler struct {
	logger   *slog.Logger
	services ServiceStore
}

// NewRotateServiceKeysHandler creates a new RotateServiceKeysHandler.
func NewRotateServiceKeysHandler(logger *slog.Logger, services ServiceStore) *RotateServiceKeysHandler {
	return &RotateServiceKeysHandler{
		logger:   logger,
		services: services,
	}
}

// ServeHTTP implements http.Handler.
func (h *RotateServiceKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	primary, primaryHash, err := newSubscriptionKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	secondary, secondaryHash, err := newSubscriptionKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.services.UpdateServiceKeys(r.Context(), id, primaryHash, secondaryHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "service not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Info("service keys rotated", "service_id", id)

	service, err := h.services.GetService(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ServiceKeysResponse{
		ServiceResponse: serviceResponse(service),
		PrimaryKey:      primary,
		SecondaryKey:    secondary,
	})
}

func serviceResponse(service store.Service) ServiceResponse {
	return ServiceResponse{
		ID:               service.ID,
		Name:             service.Name,
		OrganizationName: service.OrganizationName,
		DepartmentName:   service.DepartmentName,
		CreatedAt:        service.CreatedAt,
		UpdatedAt:        service.UpdatedAt,
	}
}

// newSubscriptionKey generates one subscription key and its bcrypt hash.
func newSubscriptionKey() (key, hash string, err error) {
	key = strings.ReplaceAll(uuid.NewString(), "-", "")
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing subscription key: %w", err)
	}
	return key, string(hashed), nil
}
