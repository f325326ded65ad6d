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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/observability/logger"
	"github.com/medplane/medplane/internal/tenant"
)

// OffboardResult reports how far offboarding got. FailedPhase is empty
// on full success.
type OffboardResult struct {
	TenantID         string   `json:"tenant_id"`
	CompletedPhases  []string `json:"completed_phases"`
	FailedPhase      string   `json:"failed_phase,omitempty"`
	ArchivePath      string   `json:"archive_path,omitempty"`
	CacheKeysRemoved int64    `json:"cache_keys_removed"`
}

// Offboard retires a tenant: suspend, export to an artifact, clear the
// cache namespace, mark archived. Phases run in that order so a failure
// never destroys data that has not been exported yet. The partial result
// is always returned.
func (a *Archiver) Offboard(ctx context.Context, tenantID string) (*OffboardResult, error) {
	result := &OffboardResult{TenantID: tenantID, CompletedPhases: []string{}}

	fail := func(phase string, err error) (*OffboardResult, error) {
		result.FailedPhase = phase
		slog.ErrorContext(ctx, "tenant offboarding failed",
			logger.TenantID(tenantID),
			logger.Phase(phase),
			logger.Error(err),
		)
		return result, &Error{Phase: phase, Err: err}
	}

	info, err := a.tenants.Get(ctx, tenantID)
	if err != nil {
		return fail(PhaseSuspend, err)
	}
	switch info.Status {
	case tenant.StatusArchived:
		return fail(PhaseSuspend, fmt.Errorf("tenant %q is already archived", tenantID))
	case tenant.StatusActive:
		if _, err := a.tenants.Suspend(ctx, tenantID, "offboarding"); err != nil {
			return fail(PhaseSuspend, err)
		}
	}
	result.CompletedPhases = append(result.CompletedPhases, PhaseSuspend)

	exported, err := a.Archive(ctx, tenantID)
	if err != nil {
		return fail(PhaseExport, err)
	}
	result.ArchivePath = exported.Path
	result.CompletedPhases = append(result.CompletedPhases, PhaseExport)

	if a.cache != nil {
		removed, err := a.cache.ClearNamespace(ctx, tenantID)
		if err != nil {
			return fail(PhaseClearCache, err)
		}
		result.CacheKeysRemoved = removed
	}
	result.CompletedPhases = append(result.CompletedPhases, PhaseClearCache)

	if _, err := a.tenants.Archive(ctx, tenantID); err != nil {
		return fail(PhaseMarkArchived, err)
	}
	result.CompletedPhases = append(result.CompletedPhases, PhaseMarkArchived)

	return result, nil
}

// Restore recreates an archived tenant from an artifact under a NEW id.
// Archived records are terminal, so restoration never resurrects the
// original; it provisions a fresh record carrying the archived metadata.
// idOrPath is either an artifact path or a tenant id, in which case the
// newest artifact for that tenant is used.
func (a *Archiver) Restore(ctx context.Context, idOrPath, newID string) (*tenant.Info, error) {
	path := idOrPath
	if _, err := os.Stat(path); err != nil {
		path, err = a.latestArtifact(idOrPath)
		if err != nil {
			return nil, &Error{Phase: PhaseRestore, Err: err}
		}
	}

	env, err := a.readArtifact(path)
	if err != nil {
		return nil, &Error{Phase: PhaseRestore, Err: err}
	}
	if env.Tenant == nil {
		return nil, &Error{Phase: PhaseRestore, Err: fmt.Errorf("artifact %s has no tenant record", path)}
	}

	info, err := a.tenants.Create(ctx, newID, env.Tenant.Name, tenant.CreateOptions{
		DisplayName: env.Tenant.DisplayName,
		Tier:        env.Tenant.Tier,
		Config:      env.Tenant.Config,
		Limits:      &env.Tenant.Limits,
	})
	if err != nil {
		return nil, &Error{Phase: PhaseRestore, Err: err}
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:          audit.TypeTenantRestored,
		TenantID:      newID,
		OtherTenantID: env.Tenant.ID,
		Outcome:       "success",
		Metadata:      map[string]any{"artifact": path},
	})

	return info, nil
}

// CleanupExpired deletes artifacts older than the retention window and
// returns the number removed. Only policy.RetentionYears is consulted
// here; ArchiveAfterDays drives offboarding schedules and
// EncryptionRequired is enforced when artifacts are written, not when
// they are deleted.
func (a *Archiver) CleanupExpired(ctx context.Context, policy RetentionPolicy) (int, error) {
	if policy.RetentionYears <= 0 {
		policy.RetentionYears = DefaultRetentionPolicy.RetentionYears
	}
	cutoff := a.now().AddDate(-policy.RetentionYears, 0, 0)

	paths, err := filepath.Glob(filepath.Join(a.cfg.Dir, "*.archive"))
	if err != nil {
		return 0, &Error{Phase: PhaseCleanup, Err: err}
	}

	removed := 0
	for _, path := range paths {
		ts, ok := artifactTimestamp(path)
		if !ok {
			slog.WarnContext(ctx, "skipping artifact with unparseable name",
				logger.ArchivePath(path),
			)
			continue
		}
		if ts >= cutoff.Unix() {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, &Error{Phase: PhaseCleanup, Err: fmt.Errorf("failed to remove %s: %w", path, err)}
		}
		removed++
		slog.InfoContext(ctx, "expired artifact removed",
			logger.ArchivePath(path),
		)
	}
	return removed, nil
}

// latestArtifact finds the newest artifact for a tenant by the timestamp
// embedded in the filename.
func (a *Archiver) latestArtifact(tenantID string) (string, error) {
	paths, err := filepath.Glob(filepath.Join(a.cfg.Dir, tenantID+"-*.archive"))
	if err != nil || len(paths) == 0 {
		return "", fmt.Errorf("no artifact found for tenant %q", tenantID)
	}

	best, bestTS := "", int64(-1)
	for _, path := range paths {
		if ts, ok := artifactTimestamp(path); ok && ts > bestTS {
			best, bestTS = path, ts
		}
	}
	if best == "" {
		return "", fmt.Errorf("no artifact found for tenant %q", tenantID)
	}
	return best, nil
}

// artifactTimestamp parses the unix timestamp from "<id>-<unix>.archive".
func artifactTimestamp(path string) (int64, bool) {
	base := strings.TrimSuffix(filepath.Base(path), ".archive")
	idx := strings.LastIndexByte(base, '-')
	if idx < 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(base[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
