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

// Package cache manages the per-tenant Redis namespace. Every key a tenant
// owns lives under "tenant:{id}:", so namespace creation and teardown are
// prefix operations and one tenant's keys are unreachable from another's
// prefix.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medplane/medplane/internal/tenant"
)

// Config holds Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Client wraps the Redis connection with tenant-namespace operations.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps a pre-built client. Intended for tests.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// KeyPrefix returns the namespace prefix for a tenant.
func KeyPrefix(tenantID string) string {
	return "tenant:" + tenantID + ":"
}

// Key builds a namespaced key.
func Key(tenantID, suffix string) string {
	return KeyPrefix(tenantID) + suffix
}

// CreateNamespace initializes a tenant's namespace with a marker key so
// health checks can distinguish "provisioned" from "never existed".
func (c *Client) CreateNamespace(ctx context.Context, tenantID string) error {
	if err := tenant.ValidateID(tenantID); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(tenantID, "meta:provisioned_at"), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("cache: failed to create namespace for %s: %w", tenantID, err)
	}
	return nil
}

// NamespaceExists reports whether the tenant's namespace marker is present.
func (c *Client) NamespaceExists(ctx context.Context, tenantID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, Key(tenantID, "meta:provisioned_at")).Result()
	if err != nil {
		return false, fmt.Errorf("cache: failed to check namespace for %s: %w", tenantID, err)
	}
	return n > 0, nil
}

// ClearNamespace deletes every key under the tenant's prefix. Other
// tenants' keys are untouched. Returns the number of keys removed.
func (c *Client) ClearNamespace(ctx context.Context, tenantID string) (int64, error) {
	if err := tenant.ValidateID(tenantID); err != nil {
		return 0, fmt.Errorf("cache: %w", err)
	}

	var removed int64
	iter := c.rdb.Scan(ctx, 0, KeyPrefix(tenantID)+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.rdb.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: failed to delete %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache: scan failed for %s: %w", tenantID, err)
	}
	return removed, nil
}

// Set stores a value in the tenant's namespace.
func (c *Client) Set(ctx context.Context, tenantID, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, Key(tenantID, key), value, ttl).Err()
}

// Get retrieves a value from the tenant's namespace. Returns redis.Nil
// wrapped when the key does not exist.
func (c *Client) Get(ctx context.Context, tenantID, key string) (string, error) {
	return c.rdb.Get(ctx, Key(tenantID, key)).Result()
}
