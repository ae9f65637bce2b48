package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crm-backend/internal/cache"
	"crm-backend/internal/config"
	"crm-backend/internal/database"
	"crm-backend/internal/delivery"
	"crm-backend/internal/events"
	"crm-backend/internal/features"
	"crm-backend/internal/handler"
	"crm-backend/internal/inference"
	"crm-backend/internal/middleware"
	"crm-backend/internal/service"
	"crm-backend/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetString("port")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	previewCache, closeCache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	flags := features.NewManagerWithDefaults(cfg.Features)
	eventManager := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled), logger)

	simulator := delivery.NewSimulator(db, delivery.Config{
		SuccessRate: cfg.Delivery.SuccessRate,
		Seed:        cfg.Delivery.Seed,
	}, logger.Named("delivery"))
	simulator.Register(eventManager)

	inferencer := inference.New(cfg.Inference())

	svc := service.NewService(db, service.Dependencies{
		Cache:      previewCache,
		CacheTTL:   cfg.Cache.TTL,
		Features:   flags,
		Events:     eventManager,
		Inferencer: inferencer,
		Logger:     logger.Named("service"),
	})

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger.Named("handler"),
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chimw.Recoverer)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			middleware.Policy{Requests: cfg.RateLimit.Rate, Window: cfg.RateLimit.Window},
			middleware.WithRouteGroup("/ai", middleware.Policy{Requests: cfg.RateLimit.AIRate, Window: cfg.RateLimit.AIWindow}),
		)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.Security.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware(tracing.ForComponent("http")))
	}

	h.Routes(r)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	protocol := "HTTP"
	if cfg.Server.EnableTLS {
		protocol = "HTTPS"
	}
	logger.Info("starting server",
		zap.String("protocol", protocol),
		zap.String("addr", addr),
		zap.Bool("ai_enabled", cfg.AI.Enabled),
		zap.Bool("provider_first", cfg.Inference().ProviderFirstActive()),
		zap.Int("rate_limit", cfg.RateLimit.Rate),
		zap.Duration("rate_window", cfg.RateLimit.Window),
		zap.Int("ai_rate_limit", cfg.RateLimit.AIRate),
	)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errChan:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("error closing server", zap.Error(err))
	}
	eventManager.Shutdown()
	if err := tracing.Shutdown(ctx); err != nil {
		logger.Error("error shutting down tracing", zap.Error(err))
	}

	return nil
}

// newCache selects Redis when an address is configured and the in-process
// cache otherwise.
func newCache(cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewInMemoryCache(), func() {}, nil
	}

	redisCache, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return redisCache, func() { redisCache.Close() }, nil
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
