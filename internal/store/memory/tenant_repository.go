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

// Package memory provides the in-memory reference implementation of the
// tenant repository. It backs tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/medplane/medplane/internal/tenant"
)

// TenantRepository implements tenant.Repository in memory. Individual
// operations are atomic; read-check-write sequences spanning several
// operations are serialized per tenant id by tenant.Manager, not here.
type TenantRepository struct {
	mu      sync.RWMutex
	records map[string]*tenant.Info
}

// NewTenantRepository creates an empty repository.
func NewTenantRepository() *TenantRepository {
	return &TenantRepository{
		records: make(map[string]*tenant.Info),
	}
}

// Get retrieves a tenant by id.
func (r *TenantRepository) Get(_ context.Context, id string) (*tenant.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.records[id]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return info.Clone(), nil
}

// Save stores the record, replacing any previous version atomically.
func (r *TenantRepository) Save(_ context.Context, info *tenant.Info) error {
	r.mu.Lock()
	r.records[info.ID] = info.Clone()
	r.mu.Unlock()
	return nil
}

// Delete removes the record.
func (r *TenantRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return tenant.ErrTenantNotFound
	}
	delete(r.records, id)
	return nil
}

// Exists reports whether a record exists for id.
func (r *TenantRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok, nil
}

// List returns records filtered by status (zero value means all), ordered
// by id for deterministic pagination.
func (r *TenantRepository) List(_ context.Context, status tenant.Status, limit, offset int) ([]*tenant.Info, error) {
	r.mu.RLock()
	all := make([]*tenant.Info, 0, len(r.records))
	for _, info := range r.records {
		if status != "" && info.Status != status {
			continue
		}
		all = append(all, info.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return []*tenant.Info{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
