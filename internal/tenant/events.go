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
	"context"
	"log/slog"
	"time"
)

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventCreated       EventType = "CREATED"
	EventActivated     EventType = "ACTIVATED"
	EventSuspended     EventType = "SUSPENDED"
	EventArchived      EventType = "ARCHIVED"
	EventDeleted       EventType = "DELETED"
	EventUpdated       EventType = "UPDATED"
	EventConfigUpdated EventType = "CONFIG_UPDATED"
	EventLimitsUpdated EventType = "LIMITS_UPDATED"
)

// Event is delivered to registered handlers after a transition has been
// committed to storage.
type Event struct {
	Type      EventType      `json:"event"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// EventHandler observes committed lifecycle transitions. Handlers run
// synchronously in registration order; a handler error is logged and never
// rolls back the transition that triggered it.
type EventHandler func(ctx context.Context, event Event) error

// emit invokes all handlers. The transition is already committed by the
// time emit runs, so failures are observational only.
func (m *Manager) emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.handlersMu.RLock()
	handlers := m.handlers
	m.handlersMu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			slog.ErrorContext(ctx, "tenant event handler failed",
				slog.String("event", string(event.Type)),
				slog.String("tenant_id", event.TenantID),
				slog.String("error", err.Error()),
			)
		}
	}
}
