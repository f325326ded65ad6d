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

// Package provision runs the tenant onboarding workflow: a fixed, ordered
// sequence of steps that takes a tenant from nothing to serviceable.
// The workflow halts on the first failing step and does NOT compensate:
// completed steps stay applied, and the returned Result records exactly
// which ones, so an operator can resume or clean up by hand.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/observability/logger"
	"github.com/medplane/medplane/internal/tenant"
)

// Step identifies one stage of the provisioning workflow.
type Step string

const (
	StepValidate        Step = "VALIDATE"
	StepCreateTenant    Step = "CREATE_TENANT"
	StepCreateSchema    Step = "CREATE_SCHEMA"
	StepApplyRLS        Step = "APPLY_RLS"
	StepCreateCache     Step = "CREATE_CACHE"
	StepConfigureLimits Step = "CONFIGURE_LIMITS"
	StepCreateAdminUser Step = "CREATE_ADMIN_USER"
	StepFinalize        Step = "FINALIZE"
)

// Steps returns the workflow order. Callers must not reorder steps:
// schema before RLS, RLS before any data path exists.
func Steps() []Step {
	return []Step{
		StepValidate,
		StepCreateTenant,
		StepCreateSchema,
		StepApplyRLS,
		StepCreateCache,
		StepConfigureLimits,
		StepCreateAdminUser,
		StepFinalize,
	}
}

// Request describes the tenant to provision.
type Request struct {
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Tier        string         `json:"tier,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Limits      *tenant.Limits `json:"limits,omitempty"`
	AdminEmail  string         `json:"admin_email,omitempty"`
}

// Result reports what the workflow accomplished. CompletedSteps lists
// applied steps in execution order; FailedStep is empty on full success.
type Result struct {
	TenantID       string    `json:"tenant_id"`
	CompletedSteps []Step    `json:"completed_steps"`
	FailedStep     Step      `json:"failed_step,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
	AdminUserID    string    `json:"admin_user_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Success reports whether every step completed.
func (r *Result) Success() bool {
	return r.FailedStep == ""
}

// Error wraps a step failure with the partial result.
type Error struct {
	Step   Step
	Result *Result
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SchemaCreator prepares per-tenant database objects.
type SchemaCreator interface {
	CreateSchema(ctx context.Context, tenantID string) error
}

// PolicyApplier ensures row-level-security policies exist on the
// tenant-scoped tables.
type PolicyApplier interface {
	EnsurePolicies(ctx context.Context) error
}

// CacheProvisioner initializes the tenant's cache namespace.
// *cache.Client satisfies it.
type CacheProvisioner interface {
	CreateNamespace(ctx context.Context, tenantID string) error
}

// AdminUserCreator creates the tenant's initial admin identity and
// returns its id.
type AdminUserCreator interface {
	CreateAdminUser(ctx context.Context, tenantID, email string) (string, error)
}

// Hooks are optional synchronous extension points. Before aborts the
// workflow when it errors; AfterStep and After observe only.
type Hooks struct {
	Before    func(ctx context.Context, req Request) error
	AfterStep func(ctx context.Context, step Step, req Request, err error)
	After     func(ctx context.Context, req Request, result *Result)
}

// Provisioner executes the onboarding workflow. Optional dependencies
// (schema, policies, cache, admins) may be nil; their steps then complete
// as no-ops, which keeps the workflow usable in partial deployments.
type Provisioner struct {
	tenants     *tenant.Manager
	schema      SchemaCreator
	policies    PolicyApplier
	cache       CacheProvisioner
	admins      AdminUserCreator
	auditLogger audit.Logger
	hooks       Hooks

	now func() time.Time
}

// NewProvisioner creates a provisioner around the tenant manager.
func NewProvisioner(
	tenants *tenant.Manager,
	schema SchemaCreator,
	policies PolicyApplier,
	cacheProv CacheProvisioner,
	admins AdminUserCreator,
	auditLogger audit.Logger,
	hooks Hooks,
) *Provisioner {
	return &Provisioner{
		tenants:     tenants,
		schema:      schema,
		policies:    policies,
		cache:       cacheProv,
		admins:      admins,
		auditLogger: auditLogger,
		hooks:       hooks,
		now:         time.Now,
	}
}

// Provision runs every step in order, halting on the first failure.
// The partial result is always returned, error or not.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*Result, error) {
	result := &Result{
		TenantID:       req.TenantID,
		CompletedSteps: []Step{},
		StartedAt:      p.now(),
	}

	if p.hooks.Before != nil {
		if err := p.hooks.Before(ctx, req); err != nil {
			result.FailedStep = StepValidate
			result.Errors = append(result.Errors, fmt.Sprintf("pre-hook: %v", err))
			result.FinishedAt = p.now()
			return result, &Error{Step: StepValidate, Result: result, Err: err}
		}
	}

	for _, step := range Steps() {
		err := p.executeStep(ctx, step, req, result)
		if p.hooks.AfterStep != nil {
			p.hooks.AfterStep(ctx, step, req, err)
		}
		if err != nil {
			result.FailedStep = step
			result.Errors = append(result.Errors, err.Error())
			result.FinishedAt = p.now()

			slog.ErrorContext(ctx, "tenant provisioning failed",
				logger.TenantID(req.TenantID),
				logger.Step(string(step)),
				logger.Error(err),
			)
			if p.hooks.After != nil {
				p.hooks.After(ctx, req, result)
			}
			return result, &Error{Step: step, Result: result, Err: err}
		}
		result.CompletedSteps = append(result.CompletedSteps, step)
	}

	result.FinishedAt = p.now()
	p.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantProvisioned,
		TenantID: req.TenantID,
		Outcome:  "success",
		Metadata: map[string]any{"steps": len(result.CompletedSteps)},
	})
	if p.hooks.After != nil {
		p.hooks.After(ctx, req, result)
	}
	return result, nil
}

// ExecuteStep runs a single step outside the workflow, for resuming a
// partially provisioned tenant.
func (p *Provisioner) ExecuteStep(ctx context.Context, step Step, req Request) error {
	result := &Result{TenantID: req.TenantID}
	return p.executeStep(ctx, step, req, result)
}

func (p *Provisioner) executeStep(ctx context.Context, step Step, req Request, result *Result) error {
	switch step {
	case StepValidate:
		if err := tenant.ValidateID(req.TenantID); err != nil {
			return err
		}
		if req.Name == "" {
			return fmt.Errorf("tenant name is required")
		}
		return nil

	case StepCreateTenant:
		_, err := p.tenants.Create(ctx, req.TenantID, req.Name, tenant.CreateOptions{
			DisplayName: req.DisplayName,
			Tier:        req.Tier,
			Config:      req.Config,
		})
		return err

	case StepCreateSchema:
		if p.schema == nil {
			return nil
		}
		return p.schema.CreateSchema(ctx, req.TenantID)

	case StepApplyRLS:
		if p.policies == nil {
			return nil
		}
		return p.policies.EnsurePolicies(ctx)

	case StepCreateCache:
		if p.cache == nil {
			return nil
		}
		return p.cache.CreateNamespace(ctx, req.TenantID)

	case StepConfigureLimits:
		if req.Limits == nil {
			return nil
		}
		_, err := p.tenants.UpdateLimits(ctx, req.TenantID, *req.Limits)
		return err

	case StepCreateAdminUser:
		if p.admins == nil {
			result.AdminUserID = uuid.NewString()
			return nil
		}
		id, err := p.admins.CreateAdminUser(ctx, req.TenantID, req.AdminEmail)
		if err != nil {
			return err
		}
		result.AdminUserID = id
		return nil

	case StepFinalize:
		_, err := p.tenants.Activate(ctx, req.TenantID)
		return err

	default:
		return fmt.Errorf("unknown provisioning step %q", step)
	}
}
