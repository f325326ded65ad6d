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

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newTestLimiter builds a limiter with an injected clock and no cleanup
// goroutine. Tests advance time through the returned pointer.
func newTestLimiter(limit int, size time.Duration, resolver LimitResolver) (*Limiter, *time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := &Limiter{
		windows:      make(map[string]*window),
		defaultLimit: limit,
		windowSize:   size,
		resolver:     resolver,
	}
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_BudgetExhaustion(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute, nil)

	// First N requests pass with strictly decreasing remaining.
	for i, want := range []int{2, 1, 0} {
		d := l.Check("acme")
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, want, d.Remaining)
	}

	// N+1 is denied with remaining zero, not an error.
	d := l.Check("acme")
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.False(t, d.ResetTime.IsZero())
}

// TestPurpose: Validates that one tenant exhausting its budget never
// affects another tenant's budget.
// Scope: Unit Test
// Security: Per-tenant resource isolation
// Expected: After tenant A is throttled, tenant B still has its full budget.
// Test Case ID: RL-01
func TestLimiter_TenantsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute, nil)

	l.Check("noisy")
	l.Check("noisy")
	assert.False(t, l.Check("noisy").Allowed)

	d := l.Check("quiet")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_WindowLazyReset(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute, nil)

	assert.True(t, l.Check("acme").Allowed)
	assert.False(t, l.Check("acme").Allowed)

	// Budget restores on the first check after the window elapses; no
	// background work is involved.
	*now = now.Add(61 * time.Second)
	d := l.Check("acme")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestLimiter_ResetTime(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute, nil)

	start := *now
	d := l.Check("acme")
	assert.Equal(t, start.Add(time.Minute), d.ResetTime)

	// Mid-window checks report the same reset boundary.
	*now = now.Add(30 * time.Second)
	d = l.Check("acme")
	assert.Equal(t, start.Add(time.Minute), d.ResetTime)
}

func TestLimiter_PerTenantOverride(t *testing.T) {
	resolver := func(tenantID string) int {
		if tenantID == "enterprise" {
			return 10
		}
		return 0 // default
	}
	l, _ := newTestLimiter(2, time.Minute, resolver)

	d := l.Check("enterprise")
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)

	d = l.Check("standard")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestLimiter_ManualReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute, nil)

	assert.True(t, l.Check("acme").Allowed)
	assert.False(t, l.Check("acme").Allowed)

	l.Reset("acme")
	assert.True(t, l.Check("acme").Allowed)
}

// TestPurpose: Validates that a slow limit lookup for one tenant does not
// stall checks for other tenants.
// Scope: Unit Test
// Security: Cross-tenant availability isolation
// Expected: While tenant A's resolver is blocked, tenant B's check still
// completes.
// Test Case ID: RL-03
func TestLimiter_SlowResolverDoesNotBlockOtherTenants(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	resolver := func(tenantID string) int {
		if tenantID == "stuck" {
			close(entered)
			<-release
		}
		return 0
	}
	l, _ := newTestLimiter(5, time.Minute, resolver)
	defer close(release)

	go l.Check("stuck")
	<-entered

	done := make(chan Decision, 1)
	go func() { done <- l.Check("responsive") }()

	select {
	case d := <-done:
		assert.True(t, d.Allowed)
	case <-time.After(2 * time.Second):
		t.Fatal("check for an unrelated tenant blocked behind a slow limit lookup")
	}
}

// TestPurpose: Validates the counter stays exact under concurrent checks.
// Scope: Unit Test
// Security: Budget atomicity
// Expected: With budget N and M>N concurrent requests, exactly N are
// allowed.
// Test Case ID: RL-02
func TestLimiter_ConcurrentChecksAreAtomic(t *testing.T) {
	const budget = 100
	const attempts = 250

	l, _ := newTestLimiter(budget, time.Minute, nil)

	var wg sync.WaitGroup
	allowed := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Check("acme").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, budget, count)
}
