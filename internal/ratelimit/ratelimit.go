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

// Package ratelimit implements the per-tenant fixed-window request budget.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one budget check. Exhaustion is not an error;
// the middleware translates Allowed=false into a throttling response.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// LimitResolver returns the per-window request budget for a tenant, or 0 to
// use the limiter default. Wired to tenant.Limits.MaxRequestsPerMinute.
type LimitResolver func(tenantID string) int

type window struct {
	count int
	start time.Time
	limit int
}

// Limiter tracks one fixed window per tenant. Counters are independent
// across tenants and reset lazily on the first check after the window
// expires.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	defaultLimit int
	windowSize   time.Duration
	resolver     LimitResolver
	now          func() time.Time

	cleanupInterval time.Duration
}

// NewLimiter creates a limiter with the given default per-window budget.
func NewLimiter(defaultLimit int, windowSize time.Duration, resolver LimitResolver) *Limiter {
	l := &Limiter{
		windows:         make(map[string]*window),
		defaultLimit:    defaultLimit,
		windowSize:      windowSize,
		resolver:        resolver,
		now:             time.Now,
		cleanupInterval: 10 * time.Minute,
	}
	go l.cleanup()
	return l
}

// Check consumes one request from the tenant's budget. It never fails;
// an exhausted budget returns Allowed=false with Remaining=0.
//
// The resolver may hit a database, so it never runs while the lock is
// held: one tenant's slow limit lookup must not stall every other
// tenant's check. When the current window is live the check completes
// entirely under the lock; only opening a new window pays for a lookup.
func (l *Limiter) Check(tenantID string) Decision {
	l.mu.Lock()
	if w, ok := l.windows[tenantID]; ok && l.now().Sub(w.start) < l.windowSize {
		d := l.consume(w)
		l.mu.Unlock()
		return d
	}
	l.mu.Unlock()

	limit := l.limitFor(tenantID)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Another goroutine may have opened the window while the resolver
	// ran; reuse it so its counts are not lost.
	now := l.now()
	w, ok := l.windows[tenantID]
	if !ok || now.Sub(w.start) >= l.windowSize {
		w = &window{start: now, limit: limit}
		l.windows[tenantID] = w
	}
	return l.consume(w)
}

// consume takes one request from w. Caller holds l.mu.
func (l *Limiter) consume(w *window) Decision {
	reset := w.start.Add(l.windowSize)
	if w.count >= w.limit {
		return Decision{Allowed: false, Remaining: 0, ResetTime: reset}
	}
	w.count++
	return Decision{Allowed: true, Remaining: w.limit - w.count, ResetTime: reset}
}

// Reset drops a tenant's window, restoring its full budget. Used when a
// tenant's limits change mid-window.
func (l *Limiter) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, tenantID)
}

func (l *Limiter) limitFor(tenantID string) int {
	if l.resolver != nil {
		if limit := l.resolver(tenantID); limit > 0 {
			return limit
		}
	}
	return l.defaultLimit
}

// cleanup drops windows that expired more than one interval ago so idle
// tenants do not accumulate.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	for range ticker.C {
		l.mu.Lock()
		now := l.now()
		for id, w := range l.windows {
			if now.Sub(w.start) >= l.windowSize+l.cleanupInterval {
				delete(l.windows, id)
			}
		}
		l.mu.Unlock()
	}
}
