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

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/store/memory"
	"github.com/medplane/medplane/internal/tenant"
)

type nopAudit struct{}

func (nopAudit) Log(ctx context.Context, event audit.Event) {}

type fakeExporter struct {
	data map[string]any
	err  error
}

func (f *fakeExporter) Export(ctx context.Context, tenantID string) (map[string]any, error) {
	return f.data, f.err
}

type fakeCacheClearer struct {
	removed int64
	err     error
	cleared []string
}

func (f *fakeCacheClearer) ClearNamespace(ctx context.Context, tenantID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cleared = append(f.cleared, tenantID)
	return f.removed, nil
}

var testArchiveKey = bytes.Repeat([]byte{0x42}, 32)

type archiveFixture struct {
	archiver *Archiver
	tenants  *tenant.Manager
	exporter *fakeExporter
	cache    *fakeCacheClearer
	dir      string
}

func newArchiveFixture(t *testing.T, cfg Config) *archiveFixture {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}

	tenants := tenant.NewManager(memory.NewTenantRepository(), nopAudit{})
	exporter := &fakeExporter{data: map[string]any{"predictions": []any{"p1", "p2"}}}
	cache := &fakeCacheClearer{removed: 7}

	a, err := NewArchiver(tenants, exporter, cache, nopAudit{}, cfg)
	require.NoError(t, err)
	return &archiveFixture{archiver: a, tenants: tenants, exporter: exporter, cache: cache, dir: cfg.Dir}
}

func (f *archiveFixture) activeTenant(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.tenants.Create(ctx, id, "Tenant "+id, tenant.CreateOptions{Tier: tenant.TierEnterprise})
	require.NoError(t, err)
	_, err = f.tenants.Activate(ctx, id)
	require.NoError(t, err)
}

func TestNewArchiver_Validation(t *testing.T) {
	tenants := tenant.NewManager(memory.NewTenantRepository(), nopAudit{})

	_, err := NewArchiver(tenants, nil, nil, nopAudit{}, Config{})
	assert.Error(t, err, "directory is required")

	_, err = NewArchiver(tenants, nil, nil, nopAudit{}, Config{
		Dir: t.TempDir(), Encrypt: true, EncryptionKey: []byte("short"),
	})
	assert.Error(t, err, "key must be 32 bytes")

	_, err = NewArchiver(tenants, nil, nil, nopAudit{}, Config{
		Dir: t.TempDir(), Encrypt: true, EncryptionKey: testArchiveKey,
	})
	assert.NoError(t, err)
}

// TestPurpose: Validates the export and restore round trip with encryption
// and compression enabled.
// Scope: Unit Test
// Security: Data-at-rest protection for archived tenant data
// Expected: The artifact on disk is unreadable as JSON, mode 0600, and
// restoring it recreates the tenant record and limits under a new id.
// Test Case ID: ARC-01
func TestArchiver_RoundTrip(t *testing.T) {
	f := newArchiveFixture(t, Config{
		Encrypt: true, EncryptionKey: testArchiveKey, Compress: true,
	})
	ctx := context.Background()
	f.activeTenant(t, "clinic")
	_, err := f.tenants.UpdateLimits(ctx, "clinic", tenant.Limits{
		MaxUsers: 50, MaxStorageGB: 200, MaxRequestsPerMinute: 900,
	})
	require.NoError(t, err)

	result, err := f.archiver.Archive(ctx, "clinic")
	require.NoError(t, err)
	assert.True(t, result.Encrypted)
	assert.True(t, result.Compressed)
	assert.Equal(t, "clinic", result.TenantID)

	raw, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), result.SizeBytes)
	assert.NotContains(t, string(raw), "clinic", "plaintext never hits disk")

	stat, err := os.Stat(result.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), stat.Mode().Perm())

	restored, err := f.archiver.Restore(ctx, result.Path, "clinic-restored")
	require.NoError(t, err)
	assert.Equal(t, "clinic-restored", restored.ID)
	assert.Equal(t, "Tenant clinic", restored.Name)
	assert.Equal(t, tenant.TierEnterprise, restored.Tier)
	assert.Equal(t, 900, restored.Limits.MaxRequestsPerMinute)
}

func TestArchiver_PlainRoundTrip(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")

	result, err := f.archiver.Archive(ctx, "clinic")
	require.NoError(t, err)
	assert.False(t, result.Encrypted)

	// Without sealing the envelope is inspectable on disk.
	raw, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"clinic"`)
	assert.Contains(t, string(raw), "predictions")
}

func TestArchiver_ExportFailures(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()

	_, err := f.archiver.Archive(ctx, "ghost")
	var aErr *Error
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, PhaseExport, aErr.Phase)
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)

	f.activeTenant(t, "clinic")
	f.exporter.err = errors.New("warehouse unreachable")
	_, err = f.archiver.Archive(ctx, "clinic")
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, PhaseExport, aErr.Phase)
}

func TestArchiver_Offboard(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")

	result, err := f.archiver.Offboard(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t,
		[]string{PhaseSuspend, PhaseExport, PhaseClearCache, PhaseMarkArchived},
		result.CompletedPhases)
	assert.Empty(t, result.FailedPhase)
	assert.NotEmpty(t, result.ArchivePath)
	assert.EqualValues(t, 7, result.CacheKeysRemoved)
	assert.Equal(t, []string{"clinic"}, f.cache.cleared)

	info, err := f.tenants.Get(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusArchived, info.Status)

	// Archived is terminal; a second offboarding attempt fails up front.
	_, err = f.archiver.Offboard(ctx, "clinic")
	var aErr *Error
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, PhaseSuspend, aErr.Phase)
}

// TestPurpose: Validates offboarding never destroys data that has not
// been exported.
// Scope: Unit Test
// Security: Data loss prevention during tenant retirement
// Expected: When export fails, the cache namespace is untouched and the
// tenant is not marked archived; the partial result names the phase.
// Test Case ID: ARC-02
func TestArchiver_OffboardHaltsOnExportFailure(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")
	f.exporter.err = errors.New("warehouse unreachable")

	result, err := f.archiver.Offboard(ctx, "clinic")
	require.Error(t, err)
	assert.Equal(t, PhaseExport, result.FailedPhase)
	assert.Equal(t, []string{PhaseSuspend}, result.CompletedPhases)

	assert.Empty(t, f.cache.cleared, "cache survives until export succeeds")

	info, getErr := f.tenants.Get(ctx, "clinic")
	require.NoError(t, getErr)
	assert.Equal(t, tenant.StatusSuspended, info.Status, "suspended but not archived")
}

func TestArchiver_OffboardCacheFailure(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")
	f.cache.err = errors.New("redis down")

	result, err := f.archiver.Offboard(ctx, "clinic")
	require.Error(t, err)
	assert.Equal(t, PhaseClearCache, result.FailedPhase)
	assert.Equal(t, []string{PhaseSuspend, PhaseExport}, result.CompletedPhases)
	assert.NotEmpty(t, result.ArchivePath, "artifact already written")
}

func TestArchiver_RestoreByTenantID(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")

	// Two artifacts with distinct embedded timestamps; Restore must pick
	// the newest.
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.archiver.now = func() time.Time { return base }
	_, err := f.archiver.Archive(ctx, "clinic")
	require.NoError(t, err)

	f.archiver.now = func() time.Time { return base.Add(time.Hour) }
	newest, err := f.archiver.Archive(ctx, "clinic")
	require.NoError(t, err)

	picked, err := f.archiver.latestArtifact("clinic")
	require.NoError(t, err)
	assert.Equal(t, newest.Path, picked)

	restored, err := f.archiver.Restore(ctx, "clinic", "clinic-v2")
	require.NoError(t, err)
	assert.Equal(t, "clinic-v2", restored.ID)

	// The original record is untouched.
	info, err := f.tenants.Get(ctx, "clinic")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusActive, info.Status)

	_, err = f.archiver.Restore(ctx, "ghost", "ghost-v2")
	var aErr *Error
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, PhaseRestore, aErr.Phase)
}

func TestArchiver_RestoreRejectsExistingID(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()
	f.activeTenant(t, "clinic")

	result, err := f.archiver.Archive(ctx, "clinic")
	require.NoError(t, err)

	_, err = f.archiver.Restore(ctx, result.Path, "clinic")
	assert.ErrorIs(t, err, tenant.ErrTenantAlreadyExists)
}

func TestArchiver_CleanupExpired(t *testing.T) {
	f := newArchiveFixture(t, Config{})
	ctx := context.Background()

	now := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	f.archiver.now = func() time.Time { return now }

	write := func(name string) string {
		path := filepath.Join(f.dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
		return path
	}

	expired := write(fmt.Sprintf("old-%d.archive", now.AddDate(-8, 0, 0).Unix()))
	kept := write(fmt.Sprintf("recent-%d.archive", now.AddDate(-1, 0, 0).Unix()))
	unparseable := write("noise.archive")

	removed, err := f.archiver.CleanupExpired(ctx, DefaultRetentionPolicy)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, kept)
	assert.FileExists(t, unparseable, "unparseable names are skipped, not deleted")

	// A zero policy falls back to the seven-year default.
	removed, err = f.archiver.CleanupExpired(ctx, RetentionPolicy{})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestArtifactTimestamp(t *testing.T) {
	ts, ok := artifactTimestamp("/var/archives/acme-clinic-1700000000.archive")
	assert.True(t, ok)
	assert.EqualValues(t, 1700000000, ts)

	_, ok = artifactTimestamp("/var/archives/noise.archive")
	assert.False(t, ok)

	_, ok = artifactTimestamp("/var/archives/acme-notanumber.archive")
	assert.False(t, ok)
}
