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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/archive"
	"github.com/medplane/medplane/internal/provision"
	"github.com/medplane/medplane/internal/tenant"
)

// routerFixture wires the full admin surface: router, middleware, handlers.
type routerFixture struct {
	*middlewareFixture
	handler *Handler
	router  http.Handler
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := newMiddlewareFixture(t, 1000)

	// The operator tenant the admin credentials belong to.
	f.activeTenant(t, "ops")

	handler := NewHandler(f.tenants, f.auditLog)
	ipLimiter := NewIPRateLimiter(1000, 1000)
	return &routerFixture{
		middlewareFixture: f,
		handler:           handler,
		router:            NewRouter(handler, f.mw, ipLimiter),
	}
}

func (f *routerFixture) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthIsPublic(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_TenantCRUD(t *testing.T) {
	f := newRouterFixture(t)
	super := f.bearer(t, "ops", tenant.AccessSuperAdmin)

	t.Run("create", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants", super, CreateTenantRequest{
			ID:   "clinic",
			Name: "Clinic Group",
			Tier: tenant.TierEnterprise,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var info tenant.Info
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "clinic", info.ID)
		assert.Equal(t, tenant.StatusPending, info.Status)
	})

	t.Run("create duplicate conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants", super, CreateTenantRequest{
			ID:   "clinic",
			Name: "Clinic Again",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("create malformed id rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants", super, CreateTenantRequest{
			ID:   "'; DROP TABLE tenants;--",
			Name: "Evil",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("activate", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/clinic/activate", super, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var info tenant.Info
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, tenant.StatusActive, info.Status)
	})

	t.Run("get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/tenants/clinic", super, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get unknown is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/tenants/ghost", super, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update limits", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/v1/tenants/clinic/limits", super, tenant.Limits{
			MaxUsers: 500, MaxStorageGB: 1000, MaxRequestsPerMinute: 6000,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var limits tenant.Limits
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limits))
		assert.Equal(t, 6000, limits.MaxRequestsPerMinute)
	})

	t.Run("update config merge", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/v1/tenants/clinic/config", super, UpdateConfigRequest{
			Config: map[string]any{"region": "us-east"},
			Merge:  true,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "us-east")
	})

	t.Run("suspend and invalid transition conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/clinic/suspend", super,
			SuspendTenantRequest{Reason: "maintenance"})
		require.Equal(t, http.StatusOK, rec.Code)

		// A suspended tenant cannot be suspended again.
		rec = f.do(t, http.MethodPost, "/api/v1/tenants/clinic/suspend", super,
			SuspendTenantRequest{Reason: "again"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("soft delete archives", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/tenants/clinic", super, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/tenants/clinic/health", super, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "archived")
	})
}

// TestPurpose: Validates access level enforcement on the admin surface.
// Scope: Integration Test (httptest)
// Security: Privilege separation
// Expected: Mutating routes demand admin or super-admin; lower levels are
// rejected with 403.
// Test Case ID: HND-01
func TestRouter_AccessLevelGuards(t *testing.T) {
	f := newRouterFixture(t)
	reader := f.bearer(t, "ops", tenant.AccessReadOnly)
	admin := f.bearer(t, "ops", tenant.AccessAdmin)

	t.Run("read-only cannot create tenants", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants", reader, CreateTenantRequest{
			ID: "nope", Name: "Nope",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin cannot create tenants", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants", admin, CreateTenantRequest{
			ID: "nope", Name: "Nope",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin can list tenants", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/tenants", admin, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("read-only cannot list tenants", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/tenants", reader, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/tenants", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

// TestPurpose: Validates the cross-tenant rule on the admin surface: a
// non-super-admin may only read its own tenant.
// Scope: Integration Test (httptest)
// Security: Multi-tenant boundary enforcement
// Expected: Reading a foreign tenant is forbidden below super-admin and
// audited; reading the own tenant succeeds.
// Test Case ID: HND-02
func TestRouter_CrossTenantReadDenied(t *testing.T) {
	f := newRouterFixture(t)
	f.activeTenant(t, "other")

	opsReader := f.bearer(t, "ops", tenant.AccessReadOnly)

	rec := f.do(t, http.MethodGet, "/api/v1/tenants/ops", opsReader, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "own tenant is readable")

	rec = f.do(t, http.MethodGet, "/api/v1/tenants/other", opsReader, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "foreign tenant is not")

	super := f.bearer(t, "ops", tenant.AccessSuperAdmin)
	rec = f.do(t, http.MethodGet, "/api/v1/tenants/other", super, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "super-admin crosses for administration")
}

func TestRouter_LifecycleRoutesUnconfigured(t *testing.T) {
	f := newRouterFixture(t)
	super := f.bearer(t, "ops", tenant.AccessSuperAdmin)

	rec := f.do(t, http.MethodPost, "/api/v1/tenants/provision", super,
		provision.Request{TenantID: "clinic", Name: "Clinic"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tenants/ops/offboard", super, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tenants/restore", super,
		RestoreTenantRequest{Source: "ops", NewID: "ops-v2"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_ProvisionAndOffboard(t *testing.T) {
	f := newRouterFixture(t)
	super := f.bearer(t, "ops", tenant.AccessSuperAdmin)

	provisioner := provision.NewProvisioner(f.tenants, nil, nil, nil, nil, f.auditLog, provision.Hooks{})
	archiver, err := archive.NewArchiver(f.tenants, nil, nil, f.auditLog, archive.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	f.handler.WithProvisioner(provisioner).WithArchiver(archiver)

	rec := f.do(t, http.MethodPost, "/api/v1/tenants/provision", super,
		provision.Request{TenantID: "clinic", Name: "Clinic Group"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result provision.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success())
	assert.Equal(t, provision.Steps(), result.CompletedSteps)

	t.Run("provision validation failure is 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/provision", super,
			provision.Request{TenantID: "Not Valid!", Name: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provision duplicate is 409", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/provision", super,
			provision.Request{TenantID: "clinic", Name: "Clinic Group"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("offboard then restore under a new id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/clinic/offboard", super, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var off archive.OffboardResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &off))
		assert.Empty(t, off.FailedPhase)
		assert.NotEmpty(t, off.ArchivePath)

		rec = f.do(t, http.MethodPost, "/api/v1/tenants/restore", super,
			RestoreTenantRequest{Source: "clinic", NewID: "clinic-v2"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var info tenant.Info
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, "clinic-v2", info.ID)
	})

	t.Run("offboard unknown tenant is 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/ghost/offboard", super, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("restore rejects missing fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/tenants/restore", super,
			RestoreTenantRequest{Source: "clinic"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRouter_ListFilter(t *testing.T) {
	f := newRouterFixture(t)
	super := f.bearer(t, "ops", tenant.AccessSuperAdmin)

	rec := f.do(t, http.MethodGet, "/api/v1/tenants?status=active", super, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/tenants?status=bogus", super, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
