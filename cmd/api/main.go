package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"buddypay.org/internal/auth"
	"buddypay.org/internal/config"
	"buddypay.org/internal/httpapi"
	"buddypay.org/internal/ledger"
	"buddypay.org/internal/obs"
	"buddypay.org/internal/store/memory"
	"buddypay.org/internal/store/pg"
	"buddypay.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	// Инициализация observability (регистрация метрик, build info)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Хранилище: PostgreSQL если задан DSN, иначе in-memory
	var st ledger.Store
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		st = pgStore
		logger.Info("using postgres store")
	} else {
		st = memory.New()
		logger.Warn("BUDDYPAY_PG_DSN not set, using in-memory store")
	}

	events := stream.New()
	svc := httpapi.NewServices(st,
		ledger.WithLogger(logger),
		ledger.WithLocation(cfg.Location),
		ledger.WithCancelWindow(cfg.CancelWindow),
		ledger.WithObserver(obs.LedgerMetrics{}),
		ledger.WithObserver(events),
	)
	if err := bootstrap(ctx, svc, cfg, logger); err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{Store: st}
	api := httpapi.New(svc, probe, httpapi.Options{
		Version:     version,
		Tokens:      tokens,
		DevTokens:   cfg.DevTokens,
		Stream:      events,
		Logger:      logger,
		RateBurst:   cfg.RateBurst,
		RatePerSec:  cfg.RatePerSec,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe, logger)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting buddypay-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("starting grpc health", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// bootstrap makes sure the roles, a fee and the configured admin exist.
func bootstrap(ctx context.Context, svc httpapi.Services, cfg config.Config, logger *slog.Logger) error {
	if _, err := svc.Directory.EnsureRole(ctx, ledger.RoleUser, 50000); err != nil {
		return err
	}
	if _, err := svc.Directory.EnsureRole(ctx, ledger.RoleAdmin, 300000); err != nil {
		return err
	}

	fees, err := svc.Fees.ListFees(ctx)
	if err != nil {
		return err
	}
	if len(fees) == 0 {
		fee, err := svc.Fees.CreateFee(ctx, cfg.SeedFee)
		if err != nil {
			return err
		}
		logger.Info("seeded fee", "fee_id", fee.ID, "percentage", fee.Percentage)
	}

	if cfg.AdminEmail == "" {
		return nil
	}
	if _, err := svc.Directory.UserByEmail(ctx, cfg.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	admin, err := svc.Directory.RegisterUser(ctx, cfg.AdminEmail, "Administrator", ledger.RoleAdmin)
	if err != nil {
		return err
	}
	logger.Info("created admin user", "user_id", admin.ID)
	return nil
}
