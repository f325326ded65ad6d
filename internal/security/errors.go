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

// Package security defines the fail-loud error taxonomy shared by every
// enforcement layer. A security.Error is never a recoverable condition for
// the operation that produced it; callers translate it at a boundary
// (HTTP status, workflow abort) but never continue past it.
package security

import (
	"errors"
	"fmt"
)

// Kind classifies a security violation.
type Kind string

const (
	KindNoContext               Kind = "no_context"
	KindCrossTenantAccess       Kind = "cross_tenant_access"
	KindInsufficientAccessLevel Kind = "insufficient_access_level"
	KindTokenInvalid            Kind = "token_invalid"
	KindTokenExpired            Kind = "token_expired"
	KindTokenTampered           Kind = "token_tampered"
	KindTenantSuspended         Kind = "tenant_suspended"
	KindTenantNotFound          Kind = "tenant_not_found"
)

// Sentinel values for errors.Is matching. Each carries only a Kind; a real
// Error compares equal to the sentinel of the same kind.
var (
	ErrNoContext               = &Error{Kind: KindNoContext, Message: "no tenant context bound"}
	ErrCrossTenantAccess       = &Error{Kind: KindCrossTenantAccess, Message: "cross-tenant access denied"}
	ErrInsufficientAccessLevel = &Error{Kind: KindInsufficientAccessLevel, Message: "insufficient access level"}
	ErrTokenInvalid            = &Error{Kind: KindTokenInvalid, Message: "token invalid"}
	ErrTokenExpired            = &Error{Kind: KindTokenExpired, Message: "token expired"}
	ErrTokenTampered           = &Error{Kind: KindTokenTampered, Message: "token signature verification failed"}
	ErrTenantSuspended         = &Error{Kind: KindTenantSuspended, Message: "tenant is suspended"}
	ErrTenantNotFound          = &Error{Kind: KindTenantNotFound, Message: "tenant not found"}
)

// Error is a security violation. TenantID identifies the bound tenant when
// one exists; OtherTenantID identifies the foreign tenant on cross-tenant
// violations.
type Error struct {
	Kind          Kind
	Message       string
	TenantID      string
	OtherTenantID string
}

func (e *Error) Error() string {
	if e.OtherTenantID != "" {
		return fmt.Sprintf("security: %s: %s (tenant=%s, other=%s)", e.Kind, e.Message, e.TenantID, e.OtherTenantID)
	}
	if e.TenantID != "" {
		return fmt.Sprintf("security: %s: %s (tenant=%s)", e.Kind, e.Message, e.TenantID)
	}
	return fmt.Sprintf("security: %s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same Kind, so
// errors.Is(err, security.ErrTokenExpired) works regardless of detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsSecurityError reports whether err wraps a security violation of any kind.
func IsSecurityError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
