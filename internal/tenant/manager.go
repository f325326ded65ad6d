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

package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medplane/medplane/internal/audit"
)

// Manager owns the canonical tenant store and drives the lifecycle state
// machine. It is independent of any one request; provisioning and archival
// workflows call it directly.
//
// Every write is a read-check-write against the repository, so writes to
// one tenant id are serialized by a per-id mutex held across the whole
// sequence. Without it two concurrent transitions could both read the old
// status, both pass the state-machine check, and the second Save would
// silently overwrite the first, reverting a terminal archive.
type Manager struct {
	repo        Repository
	auditLogger audit.Logger

	handlersMu sync.RWMutex
	handlers   []EventHandler

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex

	now func() time.Time
}

// CreateOptions carries the optional fields of a new tenant.
type CreateOptions struct {
	DisplayName string
	Tier        string
	Config      map[string]any
	Limits      *Limits
}

// NewManager creates a tenant manager backed by repo.
func NewManager(repo Repository, auditLogger audit.Logger) *Manager {
	return &Manager{
		repo:        repo,
		auditLogger: auditLogger,
		idLocks:     make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// lockID returns the mutex serializing writes to one tenant id, creating
// it on first use.
func (m *Manager) lockID(id string) *sync.Mutex {
	m.idLocksMu.Lock()
	defer m.idLocksMu.Unlock()
	l, ok := m.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.idLocks[id] = l
	}
	return l
}

// AddEventHandler registers a handler for lifecycle events. Handlers are
// invoked synchronously in registration order.
func (m *Manager) AddEventHandler(handler EventHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Create creates a new tenant in status pending. Malformed and duplicate
// ids are rejected.
func (m *Manager) Create(ctx context.Context, id, name string, opts CreateOptions) (*Info, error) {
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	exists, err := m.repo.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant existence: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("tenant %q: %w", id, ErrTenantAlreadyExists)
	}

	tier := opts.Tier
	if tier == "" {
		tier = TierStandard
	}
	limits := DefaultLimits
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	config := opts.Config
	if config == nil {
		config = map[string]any{}
	}

	now := m.now()
	info := &Info{
		ID:          id,
		Name:        name,
		DisplayName: opts.DisplayName,
		Status:      StatusPending,
		Tier:        tier,
		Config:      config,
		Limits:      limits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.repo.Save(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: id,
		Outcome:  "success",
		Metadata: map[string]any{"name": name, "tier": tier},
	})
	m.emit(ctx, Event{Type: EventCreated, TenantID: id, Detail: map[string]any{"name": name}})

	return info.Clone(), nil
}

// Get retrieves a tenant by id.
func (m *Manager) Get(ctx context.Context, id string) (*Info, error) {
	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return info.Clone(), nil
}

// List lists tenants, optionally filtered by status. A zero status means
// all statuses.
func (m *Manager) List(ctx context.Context, status Status, limit, offset int) ([]*Info, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return m.repo.List(ctx, status, limit, offset)
}

// Update replaces the mutable metadata fields (name, display name, tier).
// Status, config and limits have their own operations.
func (m *Manager) Update(ctx context.Context, id string, name, displayName, tier string) (*Info, error) {
	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		info.Name = name
	}
	if displayName != "" {
		info.DisplayName = displayName
	}
	if tier != "" {
		info.Tier = tier
	}
	info.UpdatedAt = m.now()

	if err := m.repo.Save(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	m.emit(ctx, Event{Type: EventUpdated, TenantID: id})
	return info.Clone(), nil
}

// UpdateConfig replaces or merges the tenant config map.
func (m *Manager) UpdateConfig(ctx context.Context, id string, config map[string]any, merge bool) (*Info, error) {
	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if merge {
		if info.Config == nil {
			info.Config = map[string]any{}
		}
		for k, v := range config {
			info.Config[k] = v
		}
	} else {
		info.Config = config
	}
	info.UpdatedAt = m.now()

	if err := m.repo.Save(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to update tenant config: %w", err)
	}
	m.emit(ctx, Event{Type: EventConfigUpdated, TenantID: id, Detail: map[string]any{"merge": merge}})
	return info.Clone(), nil
}

// UpdateLimits replaces the tenant limits.
func (m *Manager) UpdateLimits(ctx context.Context, id string, limits Limits) (*Info, error) {
	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info.Limits = limits
	info.UpdatedAt = m.now()

	if err := m.repo.Save(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to update tenant limits: %w", err)
	}
	m.emit(ctx, Event{Type: EventLimitsUpdated, TenantID: id})
	return info.Clone(), nil
}

// Activate moves a tenant to active.
func (m *Manager) Activate(ctx context.Context, id string) (*Info, error) {
	return m.transition(ctx, id, StatusActive, EventActivated, audit.TypeTenantActivated, nil)
}

// Suspend moves a tenant to suspended, recording the reason.
func (m *Manager) Suspend(ctx context.Context, id, reason string) (*Info, error) {
	detail := map[string]any{"reason": reason}
	return m.transition(ctx, id, StatusSuspended, EventSuspended, audit.TypeTenantSuspended, detail)
}

// Archive moves a tenant to archived. Archived is terminal.
func (m *Manager) Archive(ctx context.Context, id string) (*Info, error) {
	return m.transition(ctx, id, StatusArchived, EventArchived, audit.TypeTenantArchived, nil)
}

// Delete removes a tenant. Soft delete archives the record; hard delete
// removes it entirely.
func (m *Manager) Delete(ctx context.Context, id string, hardDelete bool) error {
	if !hardDelete {
		_, err := m.Archive(ctx, id)
		return err
	}

	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeleted,
		TenantID: id,
		Outcome:  "success",
		Metadata: map[string]any{"hard_delete": true},
	})
	m.emit(ctx, Event{Type: EventDeleted, TenantID: id, Detail: map[string]any{"hard_delete": true}})
	return nil
}

// HealthStatus summarizes one tenant's operational state.
type HealthStatus struct {
	TenantID string `json:"tenant_id"`
	Status   Status `json:"status"`
	Healthy  bool   `json:"healthy"`
	Detail   string `json:"detail,omitempty"`
}

// Health reports whether the tenant is serviceable.
func (m *Manager) Health(ctx context.Context, id string) (*HealthStatus, error) {
	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	h := &HealthStatus{TenantID: id, Status: info.Status, Healthy: info.Status == StatusActive}
	if !h.Healthy {
		h.Detail = fmt.Sprintf("tenant is %s", info.Status)
	}
	return h, nil
}

func (m *Manager) transition(ctx context.Context, id string, next Status, event EventType, auditType string, detail map[string]any) (*Info, error) {
	l := m.lockID(id)
	l.Lock()
	defer l.Unlock()

	info, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !info.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("tenant %q cannot move from %s to %s: %w", id, info.Status, next, ErrInvalidTransition)
	}

	prev := info.Status
	info.Status = next
	info.UpdatedAt = m.now()

	if err := m.repo.Save(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to save tenant transition: %w", err)
	}

	m.auditLogger.Log(ctx, audit.Event{
		Type:     auditType,
		TenantID: id,
		Outcome:  "success",
		Metadata: map[string]any{"from": string(prev), "to": string(next)},
	})
	if detail == nil {
		detail = map[string]any{}
	}
	detail["from"] = string(prev)
	detail["to"] = string(next)
	m.emit(ctx, Event{Type: event, TenantID: id, Detail: detail})

	return info.Clone(), nil
}
