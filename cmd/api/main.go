package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"github.com/mharlow/gatehouse/internal/auth"
	"github.com/mharlow/gatehouse/internal/background"
	"github.com/mharlow/gatehouse/internal/config"
	"github.com/mharlow/gatehouse/internal/database"
	"github.com/mharlow/gatehouse/internal/handlers"
	middlewareCustom "github.com/mharlow/gatehouse/internal/middleware"
	"github.com/mharlow/gatehouse/internal/repositories"
	"github.com/mharlow/gatehouse/internal/routes"
	"github.com/mharlow/gatehouse/internal/services"
	pkghttp "github.com/mharlow/gatehouse/pkg/http"
	pkglogger "github.com/mharlow/gatehouse/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	tokenRepo := repositories.NewVerificationTokenRepository(db)

	// Token consumption and the mutation it authorizes commit atomically;
	// services see only tx-bound repository views.
	runTx := services.TxRunner(func(ctx context.Context, fn func(users services.UserRepository, tokens services.VerificationTokenRepository) error) error {
		return db.WithTransaction(ctx, func(tx pgx.Tx) error {
			return fn(userRepo.WithTx(tx), tokenRepo.WithTx(tx))
		})
	})

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(tokenRepo, logger, cfg.Auth.CleanupInterval)

	// Initialize token manager
	tokenManager, err := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}

	// TOTP secret encryption
	secretBox, err := auth.NewSecretBox(cfg.Auth.TOTPEncryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret box", slog.Any("error", err))
		os.Exit(1)
	}

	totpManager := auth.NewTOTPManager(cfg.Server.AppName)
	captchaVerifier := auth.NewCaptchaVerifier(cfg.Auth.HCaptchaSecret, cfg.Auth.HCaptchaVerifyURL, logger)
	cookieConfig := auth.NewCookieConfig(cfg.Server.Env)
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Timing delay for the credential path
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   200,
		RandomDelayMs: 100,
	})

	// AWS SES email service
	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Server.FrontendURL,
		cfg.Server.AppName,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	authService := services.NewAuthService(userRepo, tokenManager, captchaVerifier, secretBox, totpManager, timingDelay, logger, auditLogger)
	accountService := services.NewAccountService(userRepo, tokenRepo, emailService, runTx, logger, auditLogger)
	totpService := services.NewTOTPService(userRepo, totpManager, secretBox, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	sessionHandler := handlers.NewSessionHandler(authService, tokenManager, cookieConfig, ipConfig)
	verificationHandler := handlers.NewVerificationHandler(accountService, totpService)
	userHandler := handlers.NewUserHandler(accountService)

	// Setup CORS middleware
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, sessionHandler, verificationHandler, userHandler, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
