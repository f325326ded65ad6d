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

// Package access is the single choke point for every tenant-scoped read or
// write decision. Business code never compares tenant ids itself; it calls
// ValidateTenantDataAccess before touching data.
package access

import (
	"context"
	"fmt"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/security"
	"github.com/medplane/medplane/internal/tenant"
	"github.com/medplane/medplane/internal/tenantctx"
)

// Operation classifies a data touch-point.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// requiredLevel maps an operation to the minimum access level it needs.
var requiredLevel = map[Operation]tenant.AccessLevel{
	OpRead:   tenant.AccessReadOnly,
	OpWrite:  tenant.AccessReadWrite,
	OpDelete: tenant.AccessReadWrite,
}

// Lookup resolves tenant metadata for existence and status checks. The
// tenant manager satisfies it.
type Lookup interface {
	Get(ctx context.Context, id string) (*tenant.Info, error)
}

// DataRecord is anything that declares which tenant owns it.
type DataRecord interface {
	OwnerTenantID() string
}

// Validator performs format, existence, status, access-level and
// cross-tenant checks.
type Validator struct {
	lookup      Lookup
	auditLogger audit.Logger
}

// NewValidator creates a validator backed by the given tenant lookup.
func NewValidator(lookup Lookup, auditLogger audit.Logger) *Validator {
	return &Validator{lookup: lookup, auditLogger: auditLogger}
}

// ValidateTenantIDFormat enforces the tenant id rules: length 3-64,
// leading lowercase letter, charset [a-z0-9_-], no reserved words. Every
// violation is reported.
func (v *Validator) ValidateTenantIDFormat(id string) ValidationResult {
	result := OK()
	for _, violation := range tenant.CheckID(id) {
		result.AddError(violation)
	}
	return result
}

// ValidateTenantExists checks the tenant is present in the canonical store.
func (v *Validator) ValidateTenantExists(ctx context.Context, id string) ValidationResult {
	result := OK()
	if _, err := v.lookup.Get(ctx, id); err != nil {
		result.AddError(fmt.Sprintf("tenant %q does not exist", id))
	}
	return result
}

// ValidateTenantActive checks the tenant exists and is serviceable.
func (v *Validator) ValidateTenantActive(ctx context.Context, id string) ValidationResult {
	result := OK()
	info, err := v.lookup.Get(ctx, id)
	if err != nil {
		result.AddError(fmt.Sprintf("tenant %q does not exist", id))
		return result
	}
	switch info.Status {
	case tenant.StatusActive:
	case tenant.StatusSuspended:
		result.AddError(fmt.Sprintf("tenant %q is suspended", id))
	default:
		result.AddError(fmt.Sprintf("tenant %q is not active (status: %s)", id, info.Status))
	}
	return result
}

// ValidateAccessLevel checks the bound access level grants at least
// required. Insufficient access fails loud.
func (v *Validator) ValidateAccessLevel(ctx context.Context, required tenant.AccessLevel) error {
	binding, ok := tenantctx.From(ctx)
	if !ok || !binding.IsSet() {
		return security.New(security.KindNoContext, "no tenant context bound")
	}
	level := binding.AccessLevel()
	if !level.AtLeast(required) {
		return &security.Error{
			Kind:     security.KindInsufficientAccessLevel,
			Message:  fmt.Sprintf("requires %s, bound context has %s", required, level),
			TenantID: binding.Current(),
		}
	}
	return nil
}

// ValidateSameTenant is the core cross-tenant guard. It never fails itself:
// a mismatch comes back as an invalid result, and every mismatch — blocked
// or not — is audited as a cross-tenant access attempt naming both ids.
func (v *Validator) ValidateSameTenant(ctx context.Context, otherID string) ValidationResult {
	result := OK()

	bound := tenantctx.CurrentTenantID(ctx)
	if bound == "" {
		result.AddError("no tenant context bound")
		return result
	}
	if otherID == "" {
		result.AddError("target tenant id is empty")
		return result
	}
	if bound != otherID {
		result.AddError(fmt.Sprintf("cross-tenant access: bound tenant %q, target tenant %q", bound, otherID))
		result.AddWarning(audit.TypeCrossTenantAccessAttempt)
		v.auditLogger.Log(ctx, audit.Event{
			Type:          audit.TypeCrossTenantAccessAttempt,
			TenantID:      bound,
			OtherTenantID: otherID,
			Outcome:       "denied",
		})
	}
	return result
}

// ValidateTenantDataAccess composes the same-tenant and access-level checks
// for one data touch-point. Every data-access path calls this; violations
// fail loud.
func (v *Validator) ValidateTenantDataAccess(ctx context.Context, targetID string, op Operation) error {
	required, ok := requiredLevel[op]
	if !ok {
		return fmt.Errorf("unknown data operation %q", op)
	}

	binding, bok := tenantctx.From(ctx)
	if !bok || !binding.IsSet() {
		return security.New(security.KindNoContext, "no tenant context bound")
	}
	bound := binding.Current()

	if same := v.ValidateSameTenant(ctx, targetID); !same.Valid {
		return &security.Error{
			Kind:          security.KindCrossTenantAccess,
			Message:       fmt.Sprintf("%s on tenant %q denied", op, targetID),
			TenantID:      bound,
			OtherTenantID: targetID,
		}
	}

	if err := v.ValidateAccessLevel(ctx, required); err != nil {
		return err
	}
	return nil
}

// ValidateDataBatch validates the declared owner of every record in one
// pass, accumulating all violations. A record with no tenant id is its own
// violation category, distinct from a cross-tenant mismatch.
func (v *Validator) ValidateDataBatch(ctx context.Context, records []DataRecord) ValidationResult {
	result := OK()

	bound := tenantctx.CurrentTenantID(ctx)
	if bound == "" {
		result.AddError("no tenant context bound")
		return result
	}

	for i, record := range records {
		owner := record.OwnerTenantID()
		if owner == "" {
			result.AddError(fmt.Sprintf("record %d: missing tenant id", i))
			continue
		}
		if owner != bound {
			result.AddError(fmt.Sprintf("record %d: belongs to tenant %q, bound tenant is %q", i, owner, bound))
			v.auditLogger.Log(ctx, audit.Event{
				Type:          audit.TypeCrossTenantAccessAttempt,
				TenantID:      bound,
				OtherTenantID: owner,
				Resource:      fmt.Sprintf("batch record %d", i),
				Outcome:       "denied",
			})
		}
	}
	return result
}
