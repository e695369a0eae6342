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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/background"
	"github.com/quillsend/quillsend/internal/config"
	"github.com/quillsend/quillsend/internal/database"
	"github.com/quillsend/quillsend/internal/handlers"
	"github.com/quillsend/quillsend/internal/middleware"
	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/repositories"
	"github.com/quillsend/quillsend/internal/routes"
	"github.com/quillsend/quillsend/internal/services"
	pkgauth "github.com/quillsend/quillsend/pkg/auth"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
	pkglogger "github.com/quillsend/quillsend/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	securityRepo := repositories.NewUserSecurityRepository(db)
	revocationRepo := repositories.NewTokenRevocationRepository(redisClient)
	windowRepo := repositories.NewRateWindowRepository(redisClient)

	// Guards. Quota protects billing and fails closed; the limiter and
	// the token blacklist favor availability and fail open.
	quotaService := services.NewQuotaService(securityRepo, cfg.Quota, services.FailClosed, logger)
	rateLimitService := services.NewRateLimitService(windowRepo, services.RateLimitRule{
		Max:     cfg.RateLimit.DefaultMax,
		Window:  cfg.RateLimit.DefaultWindow,
		KeyFunc: services.KeyByUserOrIP("rl:default"),
	}, services.FailOpen, logger)
	rateLimitService.AddRule("POST /auth/login", services.RateLimitRule{
		Max:     cfg.RateLimit.LoginMax,
		Window:  cfg.RateLimit.LoginWindow,
		KeyFunc: services.KeyByIP("rl:login"),
		Message: "Too many login attempts",
	})
	rateLimitService.AddRule("POST /auth/register", services.RateLimitRule{
		Max:     cfg.RateLimit.LoginMax,
		Window:  cfg.RateLimit.LoginWindow,
		KeyFunc: services.KeyByIP("rl:register"),
	})
	rateLimitService.AddRule("POST /messages", services.RateLimitRule{
		Max:     cfg.RateLimit.DefaultMax,
		Window:  cfg.RateLimit.DefaultWindow,
		KeyFunc: services.KeyByUserOrIP("rl:send"),
	})

	revocationService := services.NewTokenRevocationService(revocationRepo, services.FailOpen, logger)
	accountSecurity := services.NewAccountSecurityService(
		securityRepo,
		cfg.Auth.LockoutThreshold,
		cfg.Auth.LockoutDuration,
		services.FailClosed,
		logger,
	)

	// Core services
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	authService := services.NewAuthService(userRepo, tokenManager, accountSecurity, revocationService, logger)
	userService := services.NewUserService(userRepo, quotaService, accountSecurity, revocationService, logger)

	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{}

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, auditLogger, ipConfig)
	userHandler := handlers.NewUserHandler(userService)
	adminHandler := handlers.NewAdminHandler(userService, accountSecurity, revocationService, auditLogger, ipConfig)
	messageHandler := handlers.NewMessageHandler(userService, quotaService, emailService)

	// Background maintenance
	cleanupManager := background.NewCleanupManager(securityRepo, logger, cfg.Auth.CleanupInterval)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(middleware.Metrics)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:    authHandler,
		UserHandler:    userHandler,
		AdminHandler:   adminHandler,
		MessageHandler: messageHandler,
		TokenManager:   tokenManager,
		Revocation:     revocationService,
		UserFetcher:    userRepo,
		RateLimiter:    rateLimitService,
		IPConfig:       ipConfig,
		HealthCheck:    healthCheck(db, redisClient),
		AuthBurstLimit: cfg.RateLimit.LoginMax * 2,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

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

// healthCheck reports degraded components individually; the endpoint is
// unhealthy if either store is down.
func healthCheck(db *database.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus := "up", "up"
		if err := db.HealthCheck(ctx); err != nil {
			dbStatus = "down"
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisStatus = "down"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus == "down" || redisStatus == "down" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"status":%q,"database":%q,"redis":%q}`, overall, dbStatus, redisStatus)
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and
// ADMIN_PASSWORD are set.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		EmailVerified:     true,
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
