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

// Package archive exports tenant data to encrypted artifacts on disk and
// drives the offboarding workflow. Healthcare records carry long retention
// obligations, so artifacts default to seven years of retention and
// encryption at rest is required unless explicitly disabled.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/tenant"
)

// Workflow phases, reported on partial failure.
const (
	PhaseSuspend      = "SUSPEND"
	PhaseExport       = "EXPORT"
	PhaseClearCache   = "CLEAR_CACHE"
	PhaseMarkArchived = "MARK_ARCHIVED"
	PhaseRestore      = "RESTORE"
	PhaseCleanup      = "CLEANUP"
)

// Error wraps a failure with the phase it occurred in.
type Error struct {
	Phase string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s failed: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetentionPolicy governs the artifact lifecycle. RetentionYears bounds
// how long artifacts are kept and is the sole input to CleanupExpired.
// ArchiveAfterDays is the inactivity threshold used when scheduling
// offboarding, and EncryptionRequired applies at export time via
// Config.Encrypt.
type RetentionPolicy struct {
	RetentionYears     int  `json:"retention_years"`
	ArchiveAfterDays   int  `json:"archive_after_days"`
	EncryptionRequired bool `json:"encryption_required"`
}

// DefaultRetentionPolicy keeps artifacts for seven years, encrypted.
var DefaultRetentionPolicy = RetentionPolicy{
	RetentionYears:     7,
	ArchiveAfterDays:   365,
	EncryptionRequired: true,
}

// Config holds archiver settings. EncryptionKey must be 32 bytes when
// Encrypt is set.
type Config struct {
	Dir           string
	EncryptionKey []byte
	Encrypt       bool
	Compress      bool
}

// Result reports one completed export.
type Result struct {
	TenantID   string    `json:"tenant_id"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	Encrypted  bool      `json:"encrypted"`
	Compressed bool      `json:"compressed"`
	ArchivedAt time.Time `json:"archived_at"`
}

// envelope is the artifact payload: the canonical tenant record plus
// whatever domain data the exporter produced.
type envelope struct {
	Tenant     *tenant.Info   `json:"tenant"`
	Data       map[string]any `json:"data,omitempty"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// DataExporter produces the tenant-owned domain data to include in the
// artifact (predictions, care gaps, quality metrics).
type DataExporter interface {
	Export(ctx context.Context, tenantID string) (map[string]any, error)
}

// CacheClearer tears down the tenant's cache namespace during offboarding.
// *cache.Client satisfies it.
type CacheClearer interface {
	ClearNamespace(ctx context.Context, tenantID string) (int64, error)
}

// Archiver exports tenants to artifacts and runs offboarding.
type Archiver struct {
	tenants     *tenant.Manager
	exporter    DataExporter
	cache       CacheClearer
	auditLogger audit.Logger
	cfg         Config

	now func() time.Time
}

// NewArchiver creates an archiver. exporter and cache may be nil; the
// corresponding work is then skipped.
func NewArchiver(tenants *tenant.Manager, exporter DataExporter, cache CacheClearer, auditLogger audit.Logger, cfg Config) (*Archiver, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive: directory is required")
	}
	if cfg.Encrypt && len(cfg.EncryptionKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("archive: encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Archiver{
		tenants:     tenants,
		exporter:    exporter,
		cache:       cache,
		auditLogger: auditLogger,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// Archive exports the tenant record and its domain data to an artifact
// under the archive directory, keyed "<tenantID>-<unix>.archive".
func (a *Archiver) Archive(ctx context.Context, tenantID string) (*Result, error) {
	info, err := a.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, &Error{Phase: PhaseExport, Err: err}
	}

	env := envelope{Tenant: info, ArchivedAt: a.now().UTC()}
	if a.exporter != nil {
		env.Data, err = a.exporter.Export(ctx, tenantID)
		if err != nil {
			return nil, &Error{Phase: PhaseExport, Err: err}
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Phase: PhaseExport, Err: err}
	}

	if a.cfg.Compress {
		payload, err = gzipBytes(payload)
		if err != nil {
			return nil, &Error{Phase: PhaseExport, Err: err}
		}
	}
	if a.cfg.Encrypt {
		payload, err = seal(a.cfg.EncryptionKey, payload)
		if err != nil {
			return nil, &Error{Phase: PhaseExport, Err: err}
		}
	}

	if err := os.MkdirAll(a.cfg.Dir, 0o700); err != nil {
		return nil, &Error{Phase: PhaseExport, Err: err}
	}
	path := filepath.Join(a.cfg.Dir, fmt.Sprintf("%s-%d.archive", tenantID, env.ArchivedAt.Unix()))
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return nil, &Error{Phase: PhaseExport, Err: fmt.Errorf("failed to write artifact: %w", err)}
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantArchived,
		TenantID: tenantID,
		Outcome:  "success",
		Metadata: map[string]any{
			"path":       path,
			"size_bytes": len(payload),
			"encrypted":  a.cfg.Encrypt,
		},
	})

	return &Result{
		TenantID:   tenantID,
		Path:       path,
		SizeBytes:  int64(len(payload)),
		Encrypted:  a.cfg.Encrypt,
		Compressed: a.cfg.Compress,
		ArchivedAt: env.ArchivedAt,
	}, nil
}

// readArtifact reverses Archive's encoding.
func (a *Archiver) readArtifact(path string) (*envelope, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if a.cfg.Encrypt {
		payload, err = open(a.cfg.EncryptionKey, payload)
		if err != nil {
			return nil, err
		}
	}
	if a.cfg.Compress {
		payload, err = gunzipBytes(payload)
		if err != nil {
			return nil, err
		}
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed artifact: %w", err)
	}
	return &env, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	return out, nil
}

// seal produces nonce || ciphertext with XChaCha20-Poly1305.
func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("decryption failed: artifact truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
