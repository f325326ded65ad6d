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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/medplane/medplane/internal/archive"
	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/provision"
	"github.com/medplane/medplane/internal/tenant"
)

// Handler bundles the services behind the administrative surface.
// provisioner and archiver are optional; their routes answer 503 when
// the deployment runs without them.
type Handler struct {
	tenantManager *tenant.Manager
	auditLogger   audit.Logger
	provisioner   *provision.Provisioner
	archiver      *archive.Archiver
}

// NewHandler creates a new HTTP handler
func NewHandler(tenantManager *tenant.Manager, auditLogger audit.Logger) *Handler {
	return &Handler{
		tenantManager: tenantManager,
		auditLogger:   auditLogger,
	}
}

// WithProvisioner attaches the onboarding workflow to the handler.
func (h *Handler) WithProvisioner(p *provision.Provisioner) *Handler {
	h.provisioner = p
	return h
}

// WithArchiver attaches the offboarding and restore workflows.
func (h *Handler) WithArchiver(a *archive.Archiver) *Handler {
	h.archiver = a
	return h
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, tenantMW *TenantMiddleware, ipLimiter *IPRateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(IPRateLimitMiddleware(ipLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check bypasses authentication via the middleware's excluded
	// paths; registered outside the tenant group as well so the route
	// exists even when the group changes.
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenantMW.Handler)

		r.Route("/tenants", func(r chi.Router) {
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/", h.CreateTenant)
			r.With(RequireAccessLevel(tenant.AccessAdmin)).Get("/", h.ListTenants)
			r.Get("/{tenantID}", h.GetTenant)
			r.With(RequireAccessLevel(tenant.AccessAdmin)).Put("/{tenantID}", h.UpdateTenant)
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Delete("/{tenantID}", h.DeleteTenant)

			r.Get("/{tenantID}/config", h.GetTenantConfig)
			r.With(RequireAccessLevel(tenant.AccessAdmin)).Put("/{tenantID}/config", h.UpdateTenantConfig)
			r.Get("/{tenantID}/limits", h.GetTenantLimits)
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Put("/{tenantID}/limits", h.UpdateTenantLimits)

			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/{tenantID}/activate", h.ActivateTenant)
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/{tenantID}/suspend", h.SuspendTenant)
			r.Get("/{tenantID}/health", h.TenantHealth)

			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/provision", h.ProvisionTenant)
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/{tenantID}/offboard", h.OffboardTenant)
			r.With(RequireAccessLevel(tenant.AccessSuperAdmin)).Post("/restore", h.RestoreTenant)
		})
	})

	return r
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
