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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/audit"
)

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

// fakeRepo is a map-backed repository so lifecycle tests can observe state
// evolving across calls.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*Info
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*Info)}
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.records[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return info.Clone(), nil
}

func (r *fakeRepo) Save(ctx context.Context, info *Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[info.ID] = info.Clone()
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrTenantNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok, nil
}

func (r *fakeRepo) List(ctx context.Context, status Status, limit, offset int) ([]*Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Info
	for _, info := range r.records {
		if status != "" && info.Status != status {
			continue
		}
		out = append(out, info.Clone())
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeRepo) {
	t.Helper()
	auditLogger := new(mockAudit)
	auditLogger.On("Log", mock.Anything, mock.Anything).Return()
	repo := newFakeRepo()
	return NewManager(repo, auditLogger), repo
}

func TestManager_Create(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	t.Run("creates pending tenant with defaults", func(t *testing.T) {
		info, err := m.Create(ctx, "acme", "Acme Health", CreateOptions{})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, info.Status)
		assert.Equal(t, TierStandard, info.Tier)
		assert.Equal(t, DefaultLimits, info.Limits)
		assert.NotNil(t, info.Config)
		assert.False(t, info.CreatedAt.IsZero())
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		_, err := m.Create(ctx, "acme", "Acme Again", CreateOptions{})
		assert.ErrorIs(t, err, ErrTenantAlreadyExists)
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		_, err := m.Create(ctx, "'; DROP TABLE tenants;--", "Evil", CreateOptions{})
		assert.Error(t, err)
	})

	t.Run("rejects reserved id", func(t *testing.T) {
		_, err := m.Create(ctx, "admin", "Admin Inc", CreateOptions{})
		assert.Error(t, err)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := m.Create(ctx, "nameless", "", CreateOptions{})
		assert.Error(t, err)
	})

	t.Run("honors explicit options", func(t *testing.T) {
		limits := Limits{MaxUsers: 500, MaxStorageGB: 1000, MaxRequestsPerMinute: 6000}
		info, err := m.Create(ctx, "bighealth", "Big Health", CreateOptions{
			Tier:   TierEnterprise,
			Limits: &limits,
			Config: map[string]any{"region": "us-east"},
		})
		require.NoError(t, err)
		assert.Equal(t, TierEnterprise, info.Tier)
		assert.Equal(t, limits, info.Limits)
		assert.Equal(t, "us-east", info.Config["region"])
	})
}

func TestManager_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "clinic", "Clinic", CreateOptions{})
	require.NoError(t, err)

	t.Run("pending activates", func(t *testing.T) {
		info, err := m.Activate(ctx, "clinic")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, info.Status)
	})

	t.Run("active suspends with reason", func(t *testing.T) {
		info, err := m.Suspend(ctx, "clinic", "billing overdue")
		require.NoError(t, err)
		assert.Equal(t, StatusSuspended, info.Status)
	})

	t.Run("suspended reactivates", func(t *testing.T) {
		info, err := m.Activate(ctx, "clinic")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, info.Status)
	})

	t.Run("active archives", func(t *testing.T) {
		info, err := m.Archive(ctx, "clinic")
		require.NoError(t, err)
		assert.Equal(t, StatusArchived, info.Status)
	})

	t.Run("archived is terminal", func(t *testing.T) {
		_, err := m.Activate(ctx, "clinic")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = m.Suspend(ctx, "clinic", "any")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := m.Activate(ctx, "ghost")
		assert.ErrorIs(t, err, ErrTenantNotFound)
	})
}

func TestManager_Delete(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "softie", "Softie", CreateOptions{})
	require.NoError(t, err)

	t.Run("soft delete archives", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, "softie", false))
		info, err := m.Get(ctx, "softie")
		require.NoError(t, err)
		assert.Equal(t, StatusArchived, info.Status)
	})

	t.Run("hard delete removes", func(t *testing.T) {
		require.NoError(t, m.Delete(ctx, "softie", true))
		exists, err := repo.Exists(ctx, "softie")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestManager_UpdateConfig(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "cfg", "Cfg", CreateOptions{
		Config: map[string]any{"a": "1", "b": "2"},
	})
	require.NoError(t, err)

	t.Run("merge keeps existing keys", func(t *testing.T) {
		info, err := m.UpdateConfig(ctx, "cfg", map[string]any{"b": "9", "c": "3"}, true)
		require.NoError(t, err)
		assert.Equal(t, "1", info.Config["a"])
		assert.Equal(t, "9", info.Config["b"])
		assert.Equal(t, "3", info.Config["c"])
	})

	t.Run("replace drops existing keys", func(t *testing.T) {
		info, err := m.UpdateConfig(ctx, "cfg", map[string]any{"only": "this"}, false)
		require.NoError(t, err)
		assert.NotContains(t, info.Config, "a")
		assert.Equal(t, "this", info.Config["only"])
	})
}

func TestManager_EventHandlers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	t.Run("handlers run in registration order", func(t *testing.T) {
		var order []string
		m.AddEventHandler(func(ctx context.Context, e Event) error {
			order = append(order, "first:"+string(e.Type))
			return nil
		})
		m.AddEventHandler(func(ctx context.Context, e Event) error {
			order = append(order, "second:"+string(e.Type))
			return nil
		})

		_, err := m.Create(ctx, "evt", "Evt", CreateOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"first:CREATED", "second:CREATED"}, order)
	})

	t.Run("failing handler does not roll back the transition", func(t *testing.T) {
		m.AddEventHandler(func(ctx context.Context, e Event) error {
			return errors.New("webhook down")
		})

		info, err := m.Activate(ctx, "evt")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, info.Status)

		// Stored state reflects the committed transition.
		stored, err := m.Get(ctx, "evt")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, stored.Status)
	})

	t.Run("transition events carry from and to", func(t *testing.T) {
		var got Event
		m2, _ := newTestManager(t)
		m2.AddEventHandler(func(ctx context.Context, e Event) error {
			got = e
			return nil
		})
		_, err := m2.Create(ctx, "move", "Move", CreateOptions{})
		require.NoError(t, err)
		_, err = m2.Activate(ctx, "move")
		require.NoError(t, err)

		assert.Equal(t, EventActivated, got.Type)
		assert.Equal(t, "pending", got.Detail["from"])
		assert.Equal(t, "active", got.Detail["to"])
		assert.False(t, got.Timestamp.IsZero())
	})
}

func TestManager_Get_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "copy", "Copy", CreateOptions{Config: map[string]any{"k": "v"}})
	require.NoError(t, err)

	first, err := m.Get(ctx, "copy")
	require.NoError(t, err)
	first.Config["k"] = "mutated"
	first.Name = "mutated"

	second, err := m.Get(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, "v", second.Config["k"])
	assert.Equal(t, "Copy", second.Name)
}

func TestManager_Health(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, "hlth", "Hlth", CreateOptions{})
	require.NoError(t, err)

	h, err := m.Health(ctx, "hlth")
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Equal(t, StatusPending, h.Status)

	_, err = m.Activate(ctx, "hlth")
	require.NoError(t, err)

	h, err = m.Health(ctx, "hlth")
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Empty(t, h.Detail)
}

// parkingRepo wraps fakeRepo so a test can hold one Save open, widening
// the window between a transition's read and its write.
type parkingRepo struct {
	*fakeRepo
	armed  atomic.Bool
	parked chan struct{}
	gate   chan struct{}
}

func (r *parkingRepo) Save(ctx context.Context, info *Info) error {
	if r.armed.CompareAndSwap(true, false) {
		close(r.parked)
		<-r.gate
	}
	return r.fakeRepo.Save(ctx, info)
}

// TestPurpose: Validates that concurrent lifecycle transitions on one
// tenant are serialized end to end, so a committed archive can never be
// reverted by a transition that read the pre-archive status.
// Scope: Unit Test
// Security: Lifecycle integrity (archived is terminal)
// Expected: With a Suspend held open mid-write, a concurrent Archive
// waits for it; the tenant ends archived and stays archived.
// Test Case ID: MGR-01
func TestManager_ConcurrentTransitionCannotRevertArchive(t *testing.T) {
	auditLogger := new(mockAudit)
	auditLogger.On("Log", mock.Anything, mock.Anything).Return()
	repo := &parkingRepo{
		fakeRepo: newFakeRepo(),
		parked:   make(chan struct{}),
		gate:     make(chan struct{}),
	}
	m := NewManager(repo, auditLogger)
	ctx := context.Background()

	_, err := m.Create(ctx, "clinic", "Clinic", CreateOptions{})
	require.NoError(t, err)
	_, err = m.Activate(ctx, "clinic")
	require.NoError(t, err)

	// The suspend reads ACTIVE, then parks inside Save.
	repo.armed.Store(true)
	suspendDone := make(chan error, 1)
	go func() {
		_, err := m.Suspend(ctx, "clinic", "maintenance")
		suspendDone <- err
	}()
	<-repo.parked

	// The archive starts while the suspend is still in flight.
	archiveDone := make(chan error, 1)
	go func() {
		_, err := m.Archive(ctx, "clinic")
		archiveDone <- err
	}()

	// Let the archive reach the manager, then release the suspend.
	time.Sleep(50 * time.Millisecond)
	close(repo.gate)

	require.NoError(t, <-suspendDone)
	require.NoError(t, <-archiveDone, "suspended to archived is a valid transition")

	// Whatever the interleaving, archived is where the tenant ends up.
	info, err := m.Get(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, info.Status)

	// And it stays there.
	_, err = m.Activate(ctx, "clinic")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	info, err = m.Get(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, info.Status)
}
