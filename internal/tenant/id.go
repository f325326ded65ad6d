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
	"errors"
	"fmt"
	"strings"
)

// Tenant id format rules. Ids are opaque and immutable once assigned; the
// charset is deliberately narrow because ids end up in cache key prefixes,
// schema names and RLS session variables.
const (
	IDMinLength = 3
	IDMaxLength = 64
)

// reservedIDs can never be valid tenant ids regardless of format.
var reservedIDs = map[string]bool{
	"admin":    true,
	"system":   true,
	"root":     true,
	"default":  true,
	"public":   true,
	"internal": true,
	"platform": true,
}

// CheckID returns every format violation for the candidate id, empty when
// the id is valid. All violations are reported, not just the first.
func CheckID(id string) []string {
	var violations []string

	if id == "" {
		return []string{"tenant id must not be empty"}
	}
	if len(id) < IDMinLength {
		violations = append(violations, fmt.Sprintf("tenant id must be at least %d characters", IDMinLength))
	}
	if len(id) > IDMaxLength {
		violations = append(violations, fmt.Sprintf("tenant id must be at most %d characters", IDMaxLength))
	}

	first := id[0]
	if first < 'a' || first > 'z' {
		violations = append(violations, "tenant id must start with a lowercase letter")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		// One violation per id, not per character; name the offender so
		// injection payloads show up in logs verbatim-quoted.
		violations = append(violations, fmt.Sprintf("tenant id contains invalid character %q at position %d", c, i))
		break
	}

	if reservedIDs[strings.ToLower(id)] {
		violations = append(violations, fmt.Sprintf("tenant id %q is reserved", id))
	}

	return violations
}

// ValidateID collapses CheckID into a single error for callers that only
// need pass/fail.
func ValidateID(id string) error {
	violations := CheckID(id)
	if len(violations) == 0 {
		return nil
	}
	return errors.New(strings.Join(violations, "; "))
}
