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

// Package tenantctx provides the per-request tenant binding: the single
// slot that says which tenant the current unit of work acts for.
//
// A Binding is created by the middleware for each request and threaded
// through context.Context. A goroutine spawned by a handler sees the
// binding only if the context is passed to it explicitly; there is no
// implicit inheritance, so work dispatched to a pool or background task
// starts unbound.
package tenantctx

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/medplane/medplane/internal/security"
	"github.com/medplane/medplane/internal/tenant"
)

// Binding is the mutable tenant slot for one unit of execution. The
// middleware is its sole writer during a request; Override is the only
// sanctioned way for workflow code to act as a different tenant, and it
// always restores the prior state.
type Binding struct {
	mu       sync.Mutex
	tenantID string
	level    tenant.AccessLevel
	info     *tenant.Info
	boundAt  time.Time
	boundBy  string
}

// NewBinding returns an unbound slot.
func NewBinding() *Binding {
	return &Binding{}
}

// Set binds the tenant, overwriting any prior binding. The caller's
// file:line is recorded for audit.
func (b *Binding) Set(tenantID string, level tenant.AccessLevel, info *tenant.Info) {
	caller := callerRef(2)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenantID = tenantID
	b.level = level
	b.info = info
	b.boundAt = time.Now()
	b.boundBy = caller
}

// Get returns the bound tenant id, failing loud when unbound.
func (b *Binding) Get() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tenantID == "" {
		return "", security.New(security.KindNoContext, "no tenant context bound")
	}
	return b.tenantID, nil
}

// Current returns the bound tenant id or empty, never an error.
func (b *Binding) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tenantID
}

// IsSet reports whether a tenant is bound.
func (b *Binding) IsSet() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tenantID != ""
}

// Clear unbinds. Idempotent; clearing an unbound slot is a no-op.
func (b *Binding) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tenantID = ""
	b.level = tenant.AccessReadOnly
	b.info = nil
	b.boundAt = time.Time{}
	b.boundBy = ""
}

// AccessLevel returns the bound access level. Meaningless when unbound;
// callers needing a hard guarantee use Get first.
func (b *Binding) AccessLevel() tenant.AccessLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// Info returns the bound tenant metadata, nil when none was attached.
func (b *Binding) Info() *tenant.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// BoundBy returns the file:line that performed the current binding.
func (b *Binding) BoundBy() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boundBy
}

// Override rebinds to tenantID for the duration of fn and restores the
// prior binding (or clears, if none existed) on every exit path including
// panic. Nested overrides follow stack discipline.
func (b *Binding) Override(tenantID string, level tenant.AccessLevel, info *tenant.Info, fn func() error) error {
	caller := callerRef(2)

	b.mu.Lock()
	prevID, prevLevel, prevInfo := b.tenantID, b.level, b.info
	prevBoundAt, prevBoundBy := b.boundAt, b.boundBy
	b.tenantID = tenantID
	b.level = level
	b.info = info
	b.boundAt = time.Now()
	b.boundBy = caller
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.tenantID = prevID
		b.level = prevLevel
		b.info = prevInfo
		b.boundAt = prevBoundAt
		b.boundBy = prevBoundBy
		b.mu.Unlock()
	}()

	return fn()
}

func callerRef(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
