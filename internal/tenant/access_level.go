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

import "fmt"

// AccessLevel is the ordered authorization tier attached to a bound context
// or credential. Higher values strictly include the capabilities of lower
// ones.
type AccessLevel int

const (
	AccessReadOnly AccessLevel = iota
	AccessReadWrite
	AccessAdmin
	AccessSuperAdmin
)

var accessLevelNames = map[AccessLevel]string{
	AccessReadOnly:   "read_only",
	AccessReadWrite:  "read_write",
	AccessAdmin:      "admin",
	AccessSuperAdmin: "super_admin",
}

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("access_level(%d)", int(l))
}

// Valid reports whether l is one of the defined levels.
func (l AccessLevel) Valid() bool {
	_, ok := accessLevelNames[l]
	return ok
}

// AtLeast reports whether l grants everything required grants.
func (l AccessLevel) AtLeast(required AccessLevel) bool {
	return l >= required
}

// ParseAccessLevel converts the wire representation back to a level.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for level, name := range accessLevelNames {
		if name == s {
			return level, nil
		}
	}
	return AccessReadOnly, fmt.Errorf("unknown access level %q", s)
}
