package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sturgeon/sturgeon/internal/config"
	"github.com/sturgeon/sturgeon/internal/domain/casefile"
	"github.com/sturgeon/sturgeon/internal/domain/debate"
	"github.com/sturgeon/sturgeon/internal/domain/proxy"
	"github.com/sturgeon/sturgeon/internal/domain/summary"
	"github.com/sturgeon/sturgeon/internal/platform/backend"
	"github.com/sturgeon/sturgeon/internal/platform/httperr"
	"github.com/sturgeon/sturgeon/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sturgeon-gateway",
		Short: "Diagnostic debate gateway for the Sturgeon AI backend",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Backend client
	client := backend.NewClient(cfg.BackendURL, backend.Timeouts{
		Health:       cfg.HealthTimeout(),
		Differential: cfg.DifferentialTimeout(),
		Debate:       cfg.DebateTimeout(),
		Summary:      cfg.SummaryTimeout(),
		Image:        cfg.ImageTimeout(),
		Labs:         cfg.LabsTimeout(),
	}, logger)

	// Case store
	cases := casefile.NewLRURepo(cfg.CaseCapacity, cfg.CaseTTL(), logger)
	logger.Info().
		Int("capacity", cfg.CaseCapacity).
		Dur("ttl", cfg.CaseTTL()).
		Msg("case store ready")

	e := newRouter(cfg, client, cases, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("backend", cfg.BackendURL).
			Str("env", cfg.Env).
			Msg("starting gateway")

		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
	return nil
}

// newRouter assembles the echo app: middleware chain, proxy surface, case
// workflow routes, and the gateway's own liveness probe. Separate from
// runServer so tests can drive a fully wired router without binding a port.
func newRouter(cfg *config.Config, client *backend.Client, cases casefile.Repository, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", fmt.Sprintf("%dM", cfg.MaxUploadMB)))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.Audit(logger))
	e.Use(middleware.RequestTimeout(requestCeiling(cfg)))

	// Gateway liveness. No backend call: the backend's own health rides the
	// proxied /api/health route.
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       "ok",
			"version":      version,
			"active_cases": cases.Len(),
		})
	})

	// API groups
	api := e.Group("/api")
	apiV1 := e.Group("/api/v1")

	if cfg.RateLimitEnabled {
		limiter := middleware.RateLimitByOperation(middleware.EndpointBudgets())
		api.Use(limiter)
		apiV1.Use(limiter)
	}

	// Proxy surface
	proxy.NewHandler(client, cfg.MaxUploadBytes(), logger).RegisterRoutes(api)

	// Case workflow
	caseSvc := casefile.NewService(cases, client, logger)
	casefile.NewHandler(caseSvc, cfg.MaxUploadBytes()).RegisterRoutes(apiV1)

	debateSvc := debate.NewService(cases, client, logger)
	debate.NewHandler(debateSvc).RegisterRoutes(apiV1)

	summarySvc := summary.NewService(cases, client, logger)
	summary.NewHandler(summarySvc).RegisterRoutes(apiV1)

	return e
}

// requestCeiling is the request-level watchdog deadline. It sits above the
// longest outbound backend timeout so the per-endpoint deadlines fire first.
func requestCeiling(cfg *config.Config) time.Duration {
	max := cfg.HealthTimeout()
	for _, d := range []time.Duration{
		cfg.DifferentialTimeout(),
		cfg.DebateTimeout(),
		cfg.SummaryTimeout(),
		cfg.ImageTimeout(),
		cfg.LabsTimeout(),
	} {
		if d > max {
			max = d
		}
	}
	return max + 5*time.Second
}
