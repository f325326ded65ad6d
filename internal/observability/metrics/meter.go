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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps the OpenTelemetry meter with the instruments the tenant core
// records.
type Meter struct {
	meter metric.Meter

	authFailures       metric.Int64Counter
	rateLimitDenials   metric.Int64Counter
	crossTenantDenials metric.Int64Counter
}

// New creates a new meter instance. When disabled it uses the global noop
// meter so recording is always safe.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	m := &Meter{}
	if !cfg.Enabled {
		m.meter = otel.Meter("noop")
	} else {
		m.meter = otel.Meter(serviceName)
	}

	var err error
	m.authFailures, err = m.meter.Int64Counter("tenant_auth_failures_total",
		metric.WithDescription("Requests rejected for missing, invalid or expired credentials"))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failures counter: %w", err)
	}
	m.rateLimitDenials, err = m.meter.Int64Counter("tenant_rate_limit_denials_total",
		metric.WithDescription("Requests rejected by the per-tenant budget"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	m.crossTenantDenials, err = m.meter.Int64Counter("cross_tenant_denials_total",
		metric.WithDescription("Blocked cross-tenant access attempts"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cross tenant counter: %w", err)
	}
	return m, nil
}

// RecordAuthFailure counts one rejected credential.
func (m *Meter) RecordAuthFailure(ctx context.Context, reason string) {
	m.authFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimitDenial counts one throttled request.
func (m *Meter) RecordRateLimitDenial(ctx context.Context, tenantID string) {
	m.rateLimitDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

// RecordCrossTenantDenial counts one blocked cross-tenant attempt.
func (m *Meter) RecordCrossTenantDenial(ctx context.Context, tenantID string) {
	m.crossTenantDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}
