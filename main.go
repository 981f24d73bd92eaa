package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/wpaccount/internal/adapters/accountprovider"
	"github.com/Amund211/wpaccount/internal/adapters/accountrepository"
	"github.com/Amund211/wpaccount/internal/adapters/cache"
	"github.com/Amund211/wpaccount/internal/adapters/database"
	"github.com/Amund211/wpaccount/internal/app"
	"github.com/Amund211/wpaccount/internal/config"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/logging"
	"github.com/Amund211/wpaccount/internal/ports"
	"github.com/Amund211/wpaccount/internal/reporting"
	"github.com/Amund211/wpaccount/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Root certificates for the scratch container image
	_ "golang.org/x/crypto/x509roots/fallback"
)

const serviceName = "wpaccount"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	jsonHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(jsonHandler).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	if os.Getenv("WPACCOUNT_ENVIRONMENT") == "development" {
		if err := config.LoadDotEnv(); err != nil {
			fail("Failed to load .env files", "error", err.Error())
		}
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}

	logger = slog.New(logging.NewCloudTraceLogHandler(jsonHandler, config.GCPProject())).With("instanceID", instanceID)
	slog.SetDefault(logger)
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	if config.TelemetryEnabled() {
		shutdownTelemetry, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to initialize telemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Error("Failed to shut down telemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized telemetry")
	}

	userDetailsCache := cache.NewTTLCache[domain.UserDetails](1 * time.Minute)

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	accountProvider, err := accountprovider.NewWordPressCom(httpClient, config.WPComAPIBaseURL(), time.Now, time.After)
	if err != nil {
		fail("Failed to initialize WordPress.com account provider", "error", err.Error())
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	logger.Info("Initializing database connection")
	db, err := database.NewCloudsqlPostgresDatabase(config)
	if err != nil {
		fail("Failed to initialize database", "error", err.Error())
	}
	defer db.Close()
	logger.Info("Initialized database connection")

	repositorySchemaName := database.GetSchemaName(!config.IsProduction())

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, repositorySchemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	accountRepo := accountrepository.NewPostgres(db, repositorySchemaName, time.Now)

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedOrigins()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	getUserDetailsWithCache := app.BuildGetUserDetailsWithCache(userDetailsCache, accountProvider, accountRepo, time.Now)

	getUserDetailsHandler := ports.MakeGetUserDetailsHandler(
		getUserDetailsWithCache,
		allowedOrigins,
		logger.With("port", "me"),
		sentryMiddleware,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("OPTIONS /v1/me", getUserDetailsHandler)
	mux.HandleFunc("GET /v1/me", getUserDetailsHandler)
	mux.HandleFunc("GET /healthz", ports.MakeHealthzHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, "wpaccount"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownComplete := make(chan struct{})
	go func() {
		defer close(shutdownComplete)
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete")
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownComplete
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
