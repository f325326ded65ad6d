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

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medplane/medplane/internal/tenant"
)

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Get retrieves a tenant by id
func (r *TenantRepository) Get(ctx context.Context, id string) (*tenant.Info, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT id, name, display_name, status, tier, config,
		       max_users, max_storage_gb, max_requests_per_minute,
		       created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id)

	info, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return info, nil
}

// Save upserts the tenant record. The upsert keeps the write atomic per
// tenant id; concurrent transitions for the same tenant serialize on the
// row lock.
func (r *TenantRepository) Save(ctx context.Context, info *tenant.Info) error {
	configJSON, err := json.Marshal(info.Config)
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}

	var displayName sql.NullString
	if info.DisplayName != "" {
		displayName = sql.NullString{String: info.DisplayName, Valid: true}
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, display_name, status, tier, config,
		                     max_users, max_storage_gb, max_requests_per_minute,
		                     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			config = EXCLUDED.config,
			max_users = EXCLUDED.max_users,
			max_storage_gb = EXCLUDED.max_storage_gb,
			max_requests_per_minute = EXCLUDED.max_requests_per_minute,
			updated_at = EXCLUDED.updated_at
	`, info.ID, info.Name, displayName, string(info.Status), info.Tier, configJSON,
		info.Limits.MaxUsers, info.Limits.MaxStorageGB, info.Limits.MaxRequestsPerMinute,
		info.CreatedAt, info.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// Delete removes the tenant record
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// Exists reports whether a tenant record exists
func (r *TenantRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant existence: %w", err)
	}
	return exists, nil
}

// List returns tenants ordered by id, optionally filtered by status
func (r *TenantRepository) List(ctx context.Context, status tenant.Status, limit, offset int) ([]*tenant.Info, error) {
	query := `
		SELECT id, name, display_name, status, tier, config,
		       max_users, max_storage_gb, max_requests_per_minute,
		       created_at, updated_at
		FROM tenants
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY id LIMIT $2 OFFSET $3`
		args = append(args, string(status), limit, offset)
	} else {
		query += ` ORDER BY id LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Info
	for rows.Next() {
		info, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, info)
	}
	return tenants, rows.Err()
}

func scanTenant(row pgx.Row) (*tenant.Info, error) {
	var info tenant.Info
	var displayName sql.NullString
	var status string
	var configJSON []byte

	if err := row.Scan(&info.ID, &info.Name, &displayName, &status, &info.Tier, &configJSON,
		&info.Limits.MaxUsers, &info.Limits.MaxStorageGB, &info.Limits.MaxRequestsPerMinute,
		&info.CreatedAt, &info.UpdatedAt); err != nil {
		return nil, err
	}

	if displayName.Valid {
		info.DisplayName = displayName.String
	}
	info.Status = tenant.Status(status)
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &info.Config); err != nil {
			return nil, fmt.Errorf("failed to decode tenant config: %w", err)
		}
	}
	return &info, nil
}
