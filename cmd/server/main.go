package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/signal-service/config"
	"github.com/cwrk-planet/signal-service/internal/registry"
	"github.com/cwrk-planet/signal-service/internal/service"
	grpcx "github.com/cwrk-planet/signal-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/signal-service/internal/transport/http"
	"github.com/cwrk-planet/signal-service/internal/transport/ws"
	"github.com/cwrk-planet/signal-service/pkg/logger"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting signal-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// Spans carry trace ids into request logs; no exporter is configured.
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	// --- core ---
	reg := registry.New()
	hub := ws.NewHub()
	router := service.NewRouter(reg, hub,
		service.WithChatPolicy(service.NewChatPolicy(cfg.Chat.MaxLength)),
		service.WithLogger(slog.Default().With("component", "router")),
	)
	dir := service.NewRoomDirectory(reg)

	// --- WS ---
	wsServer := ws.NewServer(hub, router, ws.Options{
		AllowedOrigins: cfg.WS.AllowedOrigins,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		RatePerSecond:  cfg.WS.RateLimit.PerSecond,
		RateBurst:      cfg.WS.RateLimit.Burst,
	})

	// --- HTTP ---
	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpx.NewRouter(httpx.Deps{
			Handler:        httpx.NewHandler(dir),
			WS:             wsServer.HandleWS,
			AllowedOrigins: cfg.WS.AllowedOrigins,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// --- gRPC ---
	grpcServer, healthSrv := grpcx.NewGRPCServer(grpcx.NewServer(dir))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		return grpcServer.Serve(lis)
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := httpSrv.Shutdown(shCtx)
		// hijacked WebSocket connections are not tracked by Shutdown
		hub.Shutdown()
		healthSrv.Shutdown()
		grpcServer.GracefulStop()
		if tpErr := tp.Shutdown(shCtx); tpErr != nil {
			slog.Warn("tracer shutdown", "err", tpErr)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}
