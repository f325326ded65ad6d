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

// Command migrate applies the embedded schema and sets up row-level
// security on every tenant-scoped table.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/rls"
	"github.com/medplane/medplane/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("connection string required: set DATABASE_URL or pass as argument")
	}

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	if err := conn.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}
	fmt.Println("✓ Connected to database")

	fmt.Println("Applying schema...")
	if _, err := conn.Exec(ctx, postgres.InitialSchema); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	fmt.Println("✓ Schema applied")

	rlsManager := rls.NewManager(conn, audit.NewSlogLogger())
	fmt.Printf("Setting up row-level security on %v...\n", postgres.TenantScopedTables)
	if err := rlsManager.SetupAllTables(ctx, postgres.TenantScopedTables); err != nil {
		log.Fatalf("Failed to set up row-level security: %v", err)
	}
	fmt.Println("✓ Row-level security enabled")

	fmt.Println("\n✓✓✓ Migration completed successfully!")
}
