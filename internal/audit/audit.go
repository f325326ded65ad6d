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

package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event types
const (
	TypeCrossTenantAccessAttempt = "CROSS_TENANT_ACCESS_ATTEMPT"
	TypeAccessDenied             = "ACCESS_DENIED"
	TypeContextBound             = "CONTEXT_BOUND"
	TypeContextOverride          = "CONTEXT_OVERRIDE"
	TypeTokenIssued              = "TOKEN_ISSUED"
	TypeTokenRejected            = "TOKEN_REJECTED"
	TypeTokenRefreshed           = "TOKEN_REFRESHED"
	TypeRateLimitExceeded        = "RATE_LIMIT_EXCEEDED"
	TypeTenantCreated            = "TENANT_CREATED"
	TypeTenantActivated          = "TENANT_ACTIVATED"
	TypeTenantSuspended          = "TENANT_SUSPENDED"
	TypeTenantArchived           = "TENANT_ARCHIVED"
	TypeTenantDeleted            = "TENANT_DELETED"
	TypeTenantProvisioned        = "TENANT_PROVISIONED"
	TypeTenantRestored           = "TENANT_RESTORED"
	TypeRLSPolicyChanged         = "RLS_POLICY_CHANGED"
)

// Event represents an auditable action
type Event struct {
	Type          string
	TenantID      string
	OtherTenantID string
	ActorID       string
	Resource      string
	Outcome       string // success, failure, denied
	Metadata      map[string]any
	Timestamp     time.Time
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("tenant_id", event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.String("outcome", event.Outcome),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.OtherTenantID != "" {
		attrs = append(attrs, slog.String("other_tenant_id", event.OtherTenantID))
	}

	// Flatten metadata
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			// Redact secrets
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	level := slog.LevelInfo
	if event.Type == TypeCrossTenantAccessAttempt || event.Outcome == "denied" {
		level = slog.LevelWarn
	}

	slog.Log(ctx, level, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	secrets := []string{"password", "secret", "token", "key", "authorization"}
	for _, s := range secrets {
		if key == s {
			return true
		}
	}
	return false
}
