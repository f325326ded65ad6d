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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medplane/medplane/internal/archive"
	"github.com/medplane/medplane/internal/audit"
	"github.com/medplane/medplane/internal/cache"
	"github.com/medplane/medplane/internal/config"
	"github.com/medplane/medplane/internal/observability/logger"
	"github.com/medplane/medplane/internal/observability/metrics"
	"github.com/medplane/medplane/internal/observability/tracing"
	"github.com/medplane/medplane/internal/provision"
	"github.com/medplane/medplane/internal/ratelimit"
	"github.com/medplane/medplane/internal/rls"
	"github.com/medplane/medplane/internal/store/postgres"
	"github.com/medplane/medplane/internal/tenant"
	"github.com/medplane/medplane/internal/token"
	transportHTTP "github.com/medplane/medplane/internal/transport/http"
)

// policySetup adapts the RLS manager to the provisioner's APPLY_RLS step.
type policySetup struct {
	rls    *rls.Manager
	tables []string
}

func (p policySetup) EnsurePolicies(ctx context.Context) error {
	return p.rls.SetupAllTables(ctx, p.tables)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting medplane tenant control plane")

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize cache. The server stays up without it; provisioning and
	// offboarding of cache namespaces then degrade to no-ops.
	cacheClient, err := cache.New(ctx, cache.Config{
		Address:  cfg.Cache.Address,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err != nil {
		slog.Warn("cache unavailable, continuing without it", logger.Error(err))
	} else {
		defer cacheClient.Close()
		slog.Info("connected to cache")
	}

	// Initialize services
	auditLogger := audit.NewSlogLogger()
	tenantRepo := postgres.NewTenantRepository(db)
	tenantManager := tenant.NewManager(tenantRepo, auditLogger)

	tokenManager, err := token.NewManager(token.Config{
		SigningKey:   []byte(cfg.Token.SigningKey),
		Issuer:       cfg.Token.Issuer,
		DefaultTTL:   cfg.Token.TTL,
		RefreshGrace: cfg.Token.RefreshGrace,
	})
	if err != nil {
		slog.Error("failed to initialize token manager", logger.Error(err))
		os.Exit(1)
	}

	// Per-tenant budget comes from the tenant record when one exists.
	limiter := ratelimit.NewLimiter(
		cfg.RateLimit.DefaultRequestsPerWindow,
		cfg.RateLimit.Window,
		func(tenantID string) int {
			info, err := tenantManager.Get(ctx, tenantID)
			if err != nil || info.Limits.MaxRequestsPerMinute <= 0 {
				return 0
			}
			return info.Limits.MaxRequestsPerMinute
		},
	)

	// A nil *cache.Client must not end up inside a non-nil interface, so
	// the optional cache dependencies are only assigned when the client
	// actually connected.
	var cacheClearer archive.CacheClearer
	var cacheProvisioner provision.CacheProvisioner
	if cacheClient != nil {
		cacheClearer = cacheClient
		cacheProvisioner = cacheClient
	}

	// Archiver handles retention cleanup in the background.
	archiver, err := archive.NewArchiver(tenantManager, nil, cacheClearer, auditLogger, archive.Config{
		Dir:           cfg.Archive.Dir,
		EncryptionKey: []byte(cfg.Archive.EncryptionKey),
		Encrypt:       cfg.Archive.EncryptionRequired,
		Compress:      cfg.Archive.Compress,
	})
	if err != nil {
		slog.Error("failed to initialize archiver", logger.Error(err))
		os.Exit(1)
	}

	// Provisioner drives onboarding through the same RLS manager the
	// migrate command uses, so policies stay identical either way.
	rlsManager := rls.NewManager(db.Pool(), auditLogger)
	provisioner := provision.NewProvisioner(
		tenantManager,
		nil, // schema objects are shared; created once by cmd/migrate
		policySetup{rls: rlsManager, tables: postgres.TenantScopedTables},
		cacheProvisioner,
		nil,
		auditLogger,
		provision.Hooks{},
	)

	// Rate limiter for unauthenticated traffic
	ipLimiter := transportHTTP.NewIPRateLimiter(cfg.RateLimit.PreAuthRPS, cfg.RateLimit.PreAuthBurst)

	// Initialize HTTP handler
	tenantMW := transportHTTP.NewTenantMiddleware(
		tokenManager,
		limiter,
		tenantManager,
		auditLogger,
		meter,
		[]string{"/health"},
	)
	handler := transportHTTP.NewHandler(tenantManager, auditLogger).
		WithProvisioner(provisioner).
		WithArchiver(archiver)
	router := transportHTTP.NewRouter(handler, tenantMW, ipLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start retention cleanup goroutine
	retention := archive.RetentionPolicy{
		RetentionYears:     cfg.Archive.RetentionYears,
		ArchiveAfterDays:   cfg.Archive.ArchiveAfterDays,
		EncryptionRequired: cfg.Archive.EncryptionRequired,
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := archiver.CleanupExpired(ctx, retention); err != nil {
				slog.ErrorContext(ctx, "failed to cleanup expired archives", logger.Error(err))
			}
		}
	}()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", logger.Error(err))
		os.Exit(1)
	}

	slog.Info("server stopped")
}
