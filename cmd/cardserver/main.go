package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/lsqkk/bili-card/internal/cardcache"
	"github.com/lsqkk/bili-card/internal/config"
	"github.com/lsqkk/bili-card/internal/handler"
	upstreamhealth "github.com/lsqkk/bili-card/internal/health"
	"github.com/lsqkk/bili-card/internal/render"
	"github.com/lsqkk/bili-card/internal/resolver"
	"github.com/lsqkk/bili-card/internal/sanitize"
	"github.com/lsqkk/bili-card/internal/upstream"
)

// grpcServiceName is the service reported by the gRPC health endpoint.
const grpcServiceName = "bilicard.v1.CardService"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("cardserver exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("BILICARD_CONFIG"), logger)
	if err != nil {
		return err
	}
	if cfg.Log.Development {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("development logger: %w", err)
		}
		logger = dev
		defer logger.Sync() //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Upstream + resolver ──────────────────────────────────────────────────
	client := upstream.New(cfg.UpstreamClient(), logger)
	client.SetObserver(handler.RecordUpstream)
	client.SetBreakerObserver(handler.RecordBreakerState)

	images := sanitize.NewImageRewriter(sanitize.ImageOptions{
		Mode:          sanitize.Mode(cfg.Image.Mode),
		ProxyBase:     cfg.Image.ProxyBase,
		EmbedMaxBytes: cfg.Image.EmbedMaxBytes,
		EmbedTimeout:  cfg.Image.EmbedTimeout,
		UserAgent:     cfg.Upstream.UserAgent,
	}, logger)

	res := resolver.New(client, images, resolver.Config{
		AggregatorBase: cfg.Upstream.AggregatorBase,
		APIBase:        cfg.Upstream.APIBase,
		UIDMinLen:      cfg.UID.MinLen,
		UIDMaxLen:      cfg.UID.MaxLen,
	}, logger)

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	// ── Response cache ───────────────────────────────────────────────────────
	var store cardcache.Store
	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "redis":
			rc, err := cardcache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, logger)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer rc.Close() //nolint:errcheck
			store = rc
			logger.Info("response cache: redis", zap.String("addr", cfg.Cache.RedisAddr))
		default:
			mem := cardcache.NewMemory(cfg.Cache.MaxEntries, logger)
			mem.StartEviction(ctx, cfg.Cache.EvictionInterval)
			store = mem
			logger.Info("response cache: memory", zap.Int("max_entries", cfg.Cache.MaxEntries))
		}
	} else {
		logger.Warn("response cache disabled")
	}

	// ── Upstream health checker ──────────────────────────────────────────────
	var checker *upstreamhealth.Checker
	var grpcHealth *health.Server
	if cfg.Server.GRPCPort > 0 {
		grpcHealth = health.NewServer()
	}
	if cfg.Health.Interval > 0 {
		checker = upstreamhealth.New(res, client, upstreamhealth.Config{
			CheckInterval: cfg.Health.Interval,
			FailThreshold: cfg.Health.FailThreshold,
			CanaryUID:     cfg.Health.CanaryUID,
		}, logger)
		checker.SetMetricsRecord(handler.RecordHealthCheck)
		if grpcHealth != nil {
			checker.SetServingCallback(func(serving bool) {
				st := grpc_health_v1.HealthCheckResponse_SERVING
				if !serving {
					st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				}
				grpcHealth.SetServingStatus(grpcServiceName, st)
			})
		}
		go checker.Start(ctx)
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.CORS(cfg.Server.CORSOrigins))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.RequestID())
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	var reporter handler.HealthReporter
	if checker != nil {
		reporter = checker
	}
	handler.NewHealthHandler(reporter).Register(router)
	router.GET("/metrics", handler.MetricsHandler())

	api := router.Group("/api")
	handler.NewCardHandler(res, renderer, store, cfg.Cache.TTL, logger).Register(api)
	handler.NewThemesHandler(cfg.Server.ExampleUID, logger).Register(api)
	handler.NewDiagnoseHandler(res, client, renderer, logger).Register(api)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("cardserver HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── gRPC health server ───────────────────────────────────────────────────
	var grpcServer *grpc.Server
	if grpcHealth != nil {
		grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", cfg.Server.GRPCPort, err)
		}

		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
		grpc_health_v1.RegisterHealthServer(grpcServer, grpcHealth)
		grpcHealth.SetServingStatus(grpcServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		// gRPC reflection (for grpcurl)
		reflection.Register(grpcServer)

		go func() {
			logger.Info("cardserver gRPC health listening", zap.Int("port", cfg.Server.GRPCPort))
			if err := grpcServer.Serve(grpcLis); err != nil {
				logger.Error("gRPC serve error", zap.Error(err))
			}
		}()
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down cardserver...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Shutdown()
		grpcServer.GracefulStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("cardserver stopped")
	return nil
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := "OK"
		if err != nil {
			code = status.Code(err).String()
		}
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
