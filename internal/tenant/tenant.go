// Package tenant holds the canonical tenant data model and the lifecycle
// manager that owns it.
package tenant

import (
	"time"
)

// Info is the canonical metadata record for one tenant.
type Info struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Status      Status         `json:"status"`
	Tier        string         `json:"tier"`
	Config      map[string]any `json:"config"`
	Limits      Limits         `json:"limits"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Limits caps a tenant's resource consumption.
type Limits struct {
	MaxUsers             int `json:"max_users"`
	MaxStorageGB         int `json:"max_storage_gb"`
	MaxRequestsPerMinute int `json:"max_requests_per_minute"`
}

// DefaultLimits applies to tenants created without explicit limits.
var DefaultLimits = Limits{
	MaxUsers:             50,
	MaxStorageGB:         100,
	MaxRequestsPerMinute: 600,
}

// Tier constants
const (
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// transitions encodes the lifecycle state machine. Archived is terminal:
// an archived tenant is only restorable into a new record.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusArchived},
	StatusActive:    {StatusSuspended, StatusArchived},
	StatusSuspended: {StatusActive, StatusArchived},
	StatusArchived:  {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can never mutate the stored record
// through a returned pointer.
func (t *Info) Clone() *Info {
	cp := *t
	if t.Config != nil {
		cp.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			cp.Config[k] = v
		}
	}
	return &cp
}
