// Copyright 2026 The MedPlane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/tenant"
	"github.com/medplane/medplane/internal/tenantctx"
)

// CreateTenantRequest represents tenant creation data
type CreateTenantRequest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Tier        string         `json:"tier,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Limits      *tenant.Limits `json:"limits,omitempty"`
}

// UpdateTenantRequest represents tenant metadata updates
type UpdateTenantRequest struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Tier        string `json:"tier,omitempty"`
}

// UpdateConfigRequest represents a config replacement or merge
type UpdateConfigRequest struct {
	Config map[string]any `json:"config"`
	Merge  bool           `json:"merge"`
}

// SuspendTenantRequest carries the suspension reason
type SuspendTenantRequest struct {
	Reason string `json:"reason"`
}

// canTouchTenant enforces the cross-tenant rule on the admin surface: a
// request may operate on a foreign tenant only with super-admin access.
// Every rejected attempt is audited, blocked or not.
func (h *Handler) canTouchTenant(r *http.Request, targetID string) bool {
	binding, ok := tenantctx.From(r.Context())
	if !ok || !binding.IsSet() {
		return false
	}
	if binding.Current() == targetID {
		return true
	}
	if binding.AccessLevel().AtLeast(tenant.AccessSuperAdmin) {
		return true
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:          audit.TypeCrossTenantAccessAttempt,
		TenantID:      binding.Current(),
		OtherTenantID: targetID,
		ActorID:       GetUserID(r.Context()),
		Resource:      r.URL.Path,
		Outcome:       "denied",
	})
	return false
}

// CreateTenant handles tenant creation
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.tenantManager.Create(r.Context(), req.ID, req.Name, tenant.CreateOptions{
		DisplayName: req.DisplayName,
		Tier:        req.Tier,
		Config:      req.Config,
		Limits:      req.Limits,
	})
	if err != nil {
		if errors.Is(err, tenant.ErrTenantAlreadyExists) {
			respondError(w, http.StatusConflict, "tenant already exists")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

// ListTenants returns tenants, optionally filtered by status
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	status := tenant.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	tenants, err := h.tenantManager.List(r.Context(), status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

// GetTenant returns one tenant record
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	info, err := h.tenantManager.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// UpdateTenant updates tenant metadata
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	var req UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.tenantManager.Update(r.Context(), id, req.Name, req.DisplayName, req.Tier)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// DeleteTenant archives (soft) or removes (hard) a tenant
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))

	if err := h.tenantManager.Delete(r.Context(), id, hard); err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		if errors.Is(err, tenant.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete tenant")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id, "hard": hard})
}

// GetTenantConfig returns the tenant config map
func (h *Handler) GetTenantConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	info, err := h.tenantManager.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	respondJSON(w, http.StatusOK, info.Config)
}

// UpdateTenantConfig replaces or merges the tenant config
func (h *Handler) UpdateTenantConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.tenantManager.UpdateConfig(r.Context(), id, req.Config, req.Merge)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update config")
		return
	}
	respondJSON(w, http.StatusOK, info.Config)
}

// GetTenantLimits returns the tenant limits
func (h *Handler) GetTenantLimits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	info, err := h.tenantManager.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	respondJSON(w, http.StatusOK, info.Limits)
}

// UpdateTenantLimits replaces the tenant limits
func (h *Handler) UpdateTenantLimits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")

	var limits tenant.Limits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.tenantManager.UpdateLimits(r.Context(), id, limits)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update limits")
		return
	}
	respondJSON(w, http.StatusOK, info.Limits)
}

// ActivateTenant moves a tenant to active
func (h *Handler) ActivateTenant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) (*tenant.Info, error) {
		return h.tenantManager.Activate(r.Context(), id)
	})
}

// SuspendTenant moves a tenant to suspended
func (h *Handler) SuspendTenant(w http.ResponseWriter, r *http.Request) {
	var req SuspendTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, func(id string) (*tenant.Info, error) {
		return h.tenantManager.Suspend(r.Context(), id, req.Reason)
	})
}

// TenantHealth reports one tenant's operational state
func (h *Handler) TenantHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !h.canTouchTenant(r, id) {
		respondError(w, http.StatusForbidden, "cross-tenant access denied")
		return
	}

	health, err := h.tenantManager.Health(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	respondJSON(w, http.StatusOK, health)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(id string) (*tenant.Info, error)) {
	id := chi.URLParam(r, "tenantID")
	info, err := fn(id)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		if errors.Is(err, tenant.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "transition failed")
		return
	}
	respondJSON(w, http.StatusOK, info)
}
