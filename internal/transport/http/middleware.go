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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/observability/logger"
	"github.com/medplane/medplane/internal/observability/metrics"
	"github.com/medplane/medplane/internal/ratelimit"
	"github.com/medplane/medplane/internal/security"
	"github.com/medplane/medplane/internal/tenant"
	"github.com/medplane/medplane/internal/tenantctx"
	"github.com/medplane/medplane/internal/token"
)

// Tenant context is derived EXCLUSIVELY from the validated credential.
// A tenant id supplied in a header or query parameter is never trusted;
// the X-Tenant-ID header is rejected outright on authenticated routes.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// TenantMiddleware is the sole translator of an inbound request into a
// bound tenant context. Pipeline per request: token validation, per-tenant
// rate check, context bind, handler, unconditional context clear. The clear
// runs on every exit path — including handler panics and client
// cancellation — so a reused goroutine never inherits a stale tenant.
type TenantMiddleware struct {
	tokens        *token.Manager
	limiter       *ratelimit.Limiter
	tenants       *tenant.Manager
	auditLogger   audit.Logger
	meter         *metrics.Meter
	excludedPaths map[string]bool
}

// NewTenantMiddleware creates the per-request tenant pipeline. Paths in
// excluded (health, metrics) bypass authentication entirely.
func NewTenantMiddleware(
	tokens *token.Manager,
	limiter *ratelimit.Limiter,
	tenants *tenant.Manager,
	auditLogger audit.Logger,
	meter *metrics.Meter,
	excluded []string,
) *TenantMiddleware {
	paths := make(map[string]bool, len(excluded))
	for _, p := range excluded {
		paths[p] = true
	}
	return &TenantMiddleware{
		tokens:        tokens,
		limiter:       limiter,
		tenants:       tenants,
		auditLogger:   auditLogger,
		meter:         meter,
		excludedPaths: paths,
	}
}

// Handler wires the pipeline around next.
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.excludedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// The credential is the only source of tenant identity.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header spoofing attempt rejected",
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)
			respondError(w, http.StatusBadRequest, "X-Tenant-ID header is not allowed; tenant is derived from the credential")
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			m.meter.RecordAuthFailure(r.Context(), "missing_token")
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := m.tokens.Validate(raw)
		if err != nil {
			m.rejectToken(w, r, err)
			return
		}

		level, err := claims.Level()
		if err != nil {
			m.rejectToken(w, r, security.New(security.KindTokenInvalid, "invalid access level claim"))
			return
		}

		// Attach canonical metadata when the store knows the tenant.
		// A suspended or archived tenant authenticates but is not served.
		var info *tenant.Info
		if m.tenants != nil {
			info, err = m.tenants.Get(r.Context(), claims.TenantID)
			if errors.Is(err, tenant.ErrTenantNotFound) {
				m.meter.RecordAuthFailure(r.Context(), "unknown_tenant")
				respondError(w, http.StatusForbidden, "tenant does not exist")
				return
			}
			if err == nil && info.Status != tenant.StatusActive {
				m.auditLogger.Log(r.Context(), audit.Event{
					Type:     audit.TypeAccessDenied,
					TenantID: claims.TenantID,
					ActorID:  claims.UserID,
					Outcome:  "denied",
					Metadata: map[string]any{"status": string(info.Status)},
				})
				respondError(w, http.StatusForbidden, "tenant is "+string(info.Status))
				return
			}
		}

		decision := m.limiter.Check(claims.TenantID)
		if !decision.Allowed {
			m.meter.RecordRateLimitDenial(r.Context(), claims.TenantID)
			m.auditLogger.Log(r.Context(), audit.Event{
				Type:     audit.TypeRateLimitExceeded,
				TenantID: claims.TenantID,
				ActorID:  claims.UserID,
				Outcome:  "denied",
			})
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetTime.Unix(), 10))
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		binding := tenantctx.NewBinding()
		binding.Set(claims.TenantID, level, info)

		// Finalize unconditionally: the deferred clear runs even when the
		// handler panics or the request context is cancelled mid-flight.
		defer m.finalizeRequest(binding)

		ctx := tenantctx.With(r.Context(), binding)
		ctx = context.WithValue(ctx, userIDKey, claims.UserID)

		// No tenant-identifying response header is set: the binding is
		// server-side only.
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// finalizeRequest clears the binding so whatever reuses this goroutine next
// starts unbound.
func (m *TenantMiddleware) finalizeRequest(binding *tenantctx.Binding) {
	binding.Clear()
}

func (m *TenantMiddleware) rejectToken(w http.ResponseWriter, r *http.Request, err error) {
	reason := "invalid_token"
	message := "invalid token"
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		reason = "expired_token"
		message = "token expired"
	case errors.Is(err, security.ErrTokenTampered):
		reason = "tampered_token"
		message = "token signature verification failed"
	}

	m.meter.RecordAuthFailure(r.Context(), reason)
	m.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeTokenRejected,
		Outcome:  "denied",
		Metadata: map[string]any{"reason": reason},
	})
	respondError(w, http.StatusUnauthorized, message)
}

// RequireAccessLevel wraps a handler with a minimum access level guard.
// It composes with the tenant middleware; an unbound context fails closed.
func RequireAccessLevel(required tenant.AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			binding, ok := tenantctx.From(r.Context())
			if !ok || !binding.IsSet() {
				respondError(w, http.StatusUnauthorized, "no tenant context")
				return
			}
			if !binding.AccessLevel().AtLeast(required) {
				respondError(w, http.StatusForbidden, "insufficient access level")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
