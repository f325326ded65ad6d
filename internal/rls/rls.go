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

// Package rls manages PostgreSQL row-level-security policies: the
// database-enforced last line of defense beneath the application-layer
// validator. With RLS enabled and the session variable unset, a connection
// sees zero tenant-scoped rows.
package rls

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/tenant"
)

// SessionVariable is the per-connection GUC every isolation policy reads.
const SessionVariable = "app.current_tenant"

// AdminRole is the privileged database role the bypass policy is
// restricted to.
const AdminRole = "medplane_admin"

// PolicyType determines how a policy combines with others on the table.
type PolicyType string

const (
	Permissive  PolicyType = "PERMISSIVE"
	Restrictive PolicyType = "RESTRICTIVE"
)

// PolicyCommand is the statement class a policy applies to.
type PolicyCommand string

const (
	CommandAll    PolicyCommand = "ALL"
	CommandSelect PolicyCommand = "SELECT"
	CommandInsert PolicyCommand = "INSERT"
	CommandUpdate PolicyCommand = "UPDATE"
	CommandDelete PolicyCommand = "DELETE"
)

// Policy describes one row-level-security policy.
type Policy struct {
	Name      string
	Table     string
	Type      PolicyType
	Command   PolicyCommand
	UsingExpr string
	CheckExpr string
	Roles     []string
}

// Executor is the subset of pgx execution methods the manager needs.
// *pgxpool.Pool and *pgx.Conn both satisfy it.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Manager installs and removes RLS policies and binds the per-connection
// tenant variable.
type Manager struct {
	db          Executor
	auditLogger audit.Logger
}

// NewManager creates an RLS manager over db.
func NewManager(db Executor, auditLogger audit.Logger) *Manager {
	return &Manager{db: db, auditLogger: auditLogger}
}

// ValidateTableName is the primary injection defense: every method that
// interpolates an identifier into DDL text calls it first. Statement
// terminators, comment sequences, quoting and path traversal are rejected
// explicitly; everything outside [a-z0-9_] is rejected generally.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name must not be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("table name %q exceeds 63 characters", name)
	}
	for _, forbidden := range []string{";", "--", "/*", "*/", "'", `"`, "..", "/", "\\"} {
		if strings.Contains(name, forbidden) {
			return fmt.Errorf("table name %q contains forbidden sequence %q", name, forbidden)
		}
	}
	if name[0] >= '0' && name[0] <= '9' {
		return fmt.Errorf("table name %q must not start with a digit", name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return fmt.Errorf("table name %q contains invalid character %q at position %d", name, c, i)
	}
	return nil
}

// EnableRLS turns row-level security on for a table. With force, the table
// owner is subject to policies as well.
func (m *Manager) EnableRLS(ctx context.Context, table string, force bool) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	if _, err := m.db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table)); err != nil {
		return fmt.Errorf("failed to enable RLS on %s: %w", table, err)
	}
	if force {
		if _, err := m.db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table)); err != nil {
			return fmt.Errorf("failed to force RLS on %s: %w", table, err)
		}
	}
	return nil
}

// DisableRLS turns row-level security off for a table.
func (m *Manager) DisableRLS(ctx context.Context, table string) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	if _, err := m.db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DISABLE ROW LEVEL SECURITY", table)); err != nil {
		return fmt.Errorf("failed to disable RLS on %s: %w", table, err)
	}
	return nil
}

// TenantIsolationPolicy is the canonical policy comparing the table's
// tenant_id column against the session variable. current_setting with
// missing_ok yields NULL when the variable is unset or cleared, which
// matches no rows: fail closed.
func TenantIsolationPolicy(table string) Policy {
	expr := fmt.Sprintf("tenant_id = current_setting('%s', true)", SessionVariable)
	return Policy{
		Name:      table + "_tenant_isolation",
		Table:     table,
		Type:      Permissive,
		Command:   CommandAll,
		UsingExpr: expr,
		CheckExpr: expr,
	}
}

// AdminBypassPolicy grants the privileged role unfiltered access for
// administrative workflows.
func AdminBypassPolicy(table string) Policy {
	return Policy{
		Name:      table + "_admin_bypass",
		Table:     table,
		Type:      Permissive,
		Command:   CommandAll,
		UsingExpr: "true",
		Roles:     []string{AdminRole},
	}
}

// CreateTenantIsolationPolicy installs the canonical isolation policy.
func (m *Manager) CreateTenantIsolationPolicy(ctx context.Context, table string) error {
	return m.CreatePolicy(ctx, TenantIsolationPolicy(table))
}

// CreateAdminBypassPolicy installs the admin bypass policy.
func (m *Manager) CreateAdminBypassPolicy(ctx context.Context, table string) error {
	return m.CreatePolicy(ctx, AdminBypassPolicy(table))
}

// CreatePolicy installs a policy.
func (m *Manager) CreatePolicy(ctx context.Context, p Policy) error {
	ddl, err := buildPolicyDDL(p)
	if err != nil {
		return err
	}
	if _, err := m.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create policy %s on %s: %w", p.Name, p.Table, err)
	}
	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRLSPolicyChanged,
		Resource: p.Table,
		Outcome:  "success",
		Metadata: map[string]any{"policy": p.Name, "action": "create"},
	})
	return nil
}

// DropPolicy removes a policy.
func (m *Manager) DropPolicy(ctx context.Context, table, name string, ifExists bool) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	if err := ValidateTableName(name); err != nil {
		return fmt.Errorf("invalid policy name: %w", err)
	}
	clause := ""
	if ifExists {
		clause = "IF EXISTS "
	}
	if _, err := m.db.Exec(ctx, fmt.Sprintf("DROP POLICY %s%s ON %s", clause, name, table)); err != nil {
		return fmt.Errorf("failed to drop policy %s on %s: %w", name, table, err)
	}
	m.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRLSPolicyChanged,
		Resource: table,
		Outcome:  "success",
		Metadata: map[string]any{"policy": name, "action": "drop"},
	})
	return nil
}

// PolicyExists reports whether a policy is installed on a table.
func (m *Manager) PolicyExists(ctx context.Context, table, name string) (bool, error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}
	var exists bool
	err := m.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_policies WHERE tablename = $1 AND policyname = $2)`,
		table, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check policy existence: %w", err)
	}
	return exists, nil
}

// ListPolicies returns the policies installed on a table.
func (m *Manager) ListPolicies(ctx context.Context, table string) ([]Policy, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, err
	}
	rows, err := m.db.Query(ctx, `
		SELECT policyname, permissive, cmd, COALESCE(qual, ''), COALESCE(with_check, ''), roles
		FROM pg_policies
		WHERE tablename = $1
		ORDER BY policyname
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies on %s: %w", table, err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p := Policy{Table: table}
		var permissive, cmd string
		if err := rows.Scan(&p.Name, &permissive, &cmd, &p.UsingExpr, &p.CheckExpr, &p.Roles); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Type = PolicyType(permissive)
		p.Command = PolicyCommand(cmd)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// SetTenantForConnection binds the session variable every installed policy
// reads. It must run on the same connection that executes the subsequent
// tenant-scoped queries. An empty tenant id clears the variable, which
// fails closed: the isolation predicate then matches no rows.
func (m *Manager) SetTenantForConnection(ctx context.Context, conn Executor, tenantID string) error {
	if tenantID != "" {
		if err := tenant.ValidateID(tenantID); err != nil {
			return fmt.Errorf("refusing to bind malformed tenant id: %w", err)
		}
	}
	_, err := conn.Exec(ctx, fmt.Sprintf("SELECT set_config('%s', $1, false)", SessionVariable), tenantID)
	if err != nil {
		return fmt.Errorf("failed to set tenant session variable: %w", err)
	}
	return nil
}

// SetupTable idempotently enables RLS and installs the isolation and admin
// bypass policies on one table.
func (m *Manager) SetupTable(ctx context.Context, table string) error {
	if err := m.EnableRLS(ctx, table, true); err != nil {
		return err
	}
	for _, p := range []Policy{TenantIsolationPolicy(table), AdminBypassPolicy(table)} {
		exists, err := m.PolicyExists(ctx, table, p.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := m.CreatePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// SetupAllTables applies SetupTable to every table.
func (m *Manager) SetupAllTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if err := m.SetupTable(ctx, table); err != nil {
			return fmt.Errorf("RLS setup failed for %s: %w", table, err)
		}
	}
	return nil
}

// TeardownTable drops the managed policies and disables RLS on one table.
func (m *Manager) TeardownTable(ctx context.Context, table string) error {
	for _, p := range []Policy{TenantIsolationPolicy(table), AdminBypassPolicy(table)} {
		if err := m.DropPolicy(ctx, table, p.Name, true); err != nil {
			return err
		}
	}
	return m.DisableRLS(ctx, table)
}

// TeardownAllTables applies TeardownTable to every table.
func (m *Manager) TeardownAllTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if err := m.TeardownTable(ctx, table); err != nil {
			return fmt.Errorf("RLS teardown failed for %s: %w", table, err)
		}
	}
	return nil
}

// buildPolicyDDL renders CREATE POLICY text. Identifiers are validated
// before interpolation; expressions are caller-controlled constants, never
// user input.
func buildPolicyDDL(p Policy) (string, error) {
	if err := ValidateTableName(p.Table); err != nil {
		return "", err
	}
	if err := ValidateTableName(p.Name); err != nil {
		return "", fmt.Errorf("invalid policy name: %w", err)
	}
	if p.UsingExpr == "" && p.Command != CommandInsert {
		return "", fmt.Errorf("policy %s: using expression is required", p.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s", p.Name, p.Table)
	if p.Type == Restrictive {
		b.WriteString(" AS RESTRICTIVE")
	}
	cmd := p.Command
	if cmd == "" {
		cmd = CommandAll
	}
	fmt.Fprintf(&b, " FOR %s", cmd)
	if len(p.Roles) > 0 {
		for _, role := range p.Roles {
			if err := ValidateTableName(role); err != nil {
				return "", fmt.Errorf("invalid role name: %w", err)
			}
		}
		fmt.Fprintf(&b, " TO %s", strings.Join(p.Roles, ", "))
	}
	// INSERT policies take only WITH CHECK; SELECT and DELETE take only USING.
	if cmd != CommandInsert {
		fmt.Fprintf(&b, " USING (%s)", p.UsingExpr)
	}
	if p.CheckExpr != "" && cmd != CommandSelect && cmd != CommandDelete {
		fmt.Fprintf(&b, " WITH CHECK (%s)", p.CheckExpr)
	}
	return b.String(), nil
}
