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

	"github.com/go-chi/chi/v5"

	"github.com/medplane/medplane/internal/provision"
	"github.com/medplane/medplane/internal/tenant"
)

// RestoreTenantRequest names the artifact source and the id the restored
// tenant will be created under.
type RestoreTenantRequest struct {
	Source string `json:"source"`
	NewID  string `json:"new_id"`
}

// ProvisionTenant runs the full onboarding workflow. On failure the
// partial result is returned so the operator can resume.
func (h *Handler) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	if h.provisioner == nil {
		respondError(w, http.StatusServiceUnavailable, "provisioning is not configured")
		return
	}

	var req provision.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.provisioner.Provision(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tenant.ErrTenantAlreadyExists):
			status = http.StatusConflict
		case result != nil && result.FailedStep == provision.StepValidate:
			status = http.StatusBadRequest
		}
		respondJSON(w, status, result)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// OffboardTenant retires a tenant: suspend, export, clear cache, archive.
func (h *Handler) OffboardTenant(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respondError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}

	id := chi.URLParam(r, "tenantID")
	result, err := h.archiver.Offboard(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tenant.ErrTenantNotFound) {
			status = http.StatusNotFound
		}
		respondJSON(w, status, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RestoreTenant recreates an archived tenant from an artifact under a new id.
func (h *Handler) RestoreTenant(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		respondError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}

	var req RestoreTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" || req.NewID == "" {
		respondError(w, http.StatusBadRequest, "source and new_id are required")
		return
	}

	info, err := h.archiver.Restore(r.Context(), req.Source, req.NewID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantAlreadyExists) {
			respondError(w, http.StatusConflict, "target tenant id already exists")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, info)
}
