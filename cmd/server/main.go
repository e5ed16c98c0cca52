// server runs the HTTP API and, when GRPC_ADDR is set, the gRPC health listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"saas-admin/backend/internal/audit"
	auditrepo "saas-admin/backend/internal/audit/repository"
	"saas-admin/backend/internal/config"
	"saas-admin/backend/internal/db"
	healthhandler "saas-admin/backend/internal/health/handler"
	identityhandler "saas-admin/backend/internal/identity/handler"
	"saas-admin/backend/internal/identity/service"
	"saas-admin/backend/internal/logging"
	"saas-admin/backend/internal/mfa"
	"saas-admin/backend/internal/passwordreset/delivery"
	"saas-admin/backend/internal/policy/engine"
	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/server"
	"saas-admin/backend/internal/server/interceptors"
	"saas-admin/backend/internal/store"
	"saas-admin/backend/internal/store/memory"
	"saas-admin/backend/internal/store/seed"
	telemetry "saas-admin/backend/internal/telemetry/otel"
)

const (
	serviceName       = "saas-admin-api"
	shutdownTimeout   = 15 * time.Second
	grpcHealthRefresh = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	checks := map[string]healthhandler.Check{}
	var (
		st        store.Store
		mem       *memory.Store
		auditRepo auditrepo.Repository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		st = pg
		auditRepo = auditrepo.NewPostgresRepository(pool)
		checks["database"] = pg.Ping
	} else {
		if cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		logger.Warn("DATABASE_URL not set; using the in-memory store with development accounts")
		mem = memory.New()
		st = mem
	}

	tokens, err := security.NewTokenCodec([]byte(cfg.JWTSecret), []byte(cfg.RefreshTokenSecret), cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	hasher := security.NewHasher(security.Argon2Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	})
	if mem != nil {
		if err := seed.Run(ctx, mem, hasher, logger); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	policy, err := engine.NewOPAEvaluator(ctx, engine.DefaultRolePolicy)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	checks["policy"] = policy.HealthCheck

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithAuditLogger(audit.Multi{
			audit.NewLogger(auditRepo, interceptors.ClientIP, logger),
			telemetry.NewAuditEmitter(providers.LoggerProvider),
		}),
	}
	if cfg.RedisURL != "" {
		rc, err := mfa.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		guard := mfa.NewRedisReplayGuard(rc)
		opts = append(opts, service.WithReplayGuard(guard))
		checks["redis"] = guard.Ping
	}
	if cfg.ResetWebhookURL != "" {
		opts = append(opts, service.WithResetNotifier(delivery.NewWebhookNotifier(cfg.ResetWebhookURL, cfg.ResetWebhookToken)))
	} else if !cfg.ResetTokenReturnToClient {
		logger.Warn("password reset tokens have no delivery channel; set RESET_WEBHOOK_URL")
	}
	svc := service.NewAuthService(st, hasher, tokens, mfa.NewAuthenticator(cfg.TOTPIssuer), opts...)
	healthChecks := healthhandler.NewHandler(checks)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewRouter(server.Deps{
			Auth:   svc,
			Tokens: tokens,
			Policy: policy,
			Health: healthChecks,
			Cookie: identityhandler.CookieConfig{
				Name:   cfg.RefreshCookieName,
				Path:   cfg.RefreshCookiePath,
				Secure: cfg.IsProduction(),
			},
			ReturnResetToken: cfg.ResetTokenReturnToClient,
			Timeout:          cfg.Timeout(),
			Logger:           logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "checks", healthChecks.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		hs := health.NewServer()
		grpcSrv = server.NewGRPCServer(tokens, hs, logger)
		go healthChecks.SyncGRPC(ctx, hs, grpcHealthRefresh)
		go func() {
			logger.Info("grpc server listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("listener failed", "error", runErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := svc.Wait(sctx); err != nil {
		logger.Warn("password reset deliveries still in flight", "error", err)
	}
	return runErr
}
