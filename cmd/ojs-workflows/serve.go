package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/metrics"
)

const grpcHealthService = "ojs.workflows.v1"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := newEngine(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("failed to close run store", "error", err)
		}
	}()
	slog.Info("run store opened", "store", cfg.Store, "workflows", engine.Registry.Len())

	metrics.Init(core.Version, cfg.Store)

	if err := engine.ScheduleRetention(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		slog.Warn("startup hooks failed", "error", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      engine.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(grpcHealthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("OJS workflows server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listening for gRPC on %s: %w", cfg.GRPCPort, err)
		}
		slog.Info("OJS gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := engine.Stop(stopCtx); err != nil {
			slog.Error("failed to stop cron jobs", "error", err)
		}
		time.Sleep(cfg.ShutdownGrace)

		healthSrv.Shutdown()
		grpcServer.GracefulStop()
		if err := srv.Shutdown(stopCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
