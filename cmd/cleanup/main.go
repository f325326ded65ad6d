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

// Command cleanup removes tenant archive artifacts past the retention
// window. Intended to run from cron.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/medplane/medplane/internal/archive"
	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/config"
	"github.com/medplane/medplane/internal/store/memory"
	"github.com/medplane/medplane/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	auditLogger := audit.NewSlogLogger()
	// Cleanup only touches artifacts on disk; no live store is needed.
	tenants := tenant.NewManager(memory.NewTenantRepository(), auditLogger)

	archiver, err := archive.NewArchiver(tenants, nil, nil, auditLogger, archive.Config{
		Dir:           cfg.Archive.Dir,
		EncryptionKey: []byte(cfg.Archive.EncryptionKey),
		Encrypt:       cfg.Archive.EncryptionRequired,
		Compress:      cfg.Archive.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize archiver: %v\n", err)
		os.Exit(1)
	}

	removed, err := archiver.CleanupExpired(context.Background(), archive.RetentionPolicy{
		RetentionYears:     cfg.Archive.RetentionYears,
		ArchiveAfterDays:   cfg.Archive.ArchiveAfterDays,
		EncryptionRequired: cfg.Archive.EncryptionRequired,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Removed %d expired archive(s) from %s\n", removed, cfg.Archive.Dir)
}
