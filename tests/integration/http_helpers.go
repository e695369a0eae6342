package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/config"
	"github.com/quillsend/quillsend/internal/database"
	"github.com/quillsend/quillsend/internal/handlers"
	custommiddleware "github.com/quillsend/quillsend/internal/middleware"
	"github.com/quillsend/quillsend/internal/repositories"
	"github.com/quillsend/quillsend/internal/routes"
	"github.com/quillsend/quillsend/internal/services"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
	pkglogger "github.com/quillsend/quillsend/pkg/logger"
)

// SentMessage is one captured outbound email.
type SentMessage struct {
	To      []string
	Subject string
	Body    string
}

// CapturingEmailSender records messages instead of delivering them.
type CapturingEmailSender struct {
	mu   sync.Mutex
	Sent []SentMessage
}

func (c *CapturingEmailSender) Send(ctx context.Context, to []string, subject, textBody, htmlBody string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, SentMessage{To: to, Subject: subject, Body: textBody})
	return nil
}

// Count returns the number of captured messages.
func (c *CapturingEmailSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// TestServer wraps httptest.Server with the full dependency graph: real
// Postgres (testcontainer), real counter-store semantics (miniredis),
// and a captured email sender.
type TestServer struct {
	Server *httptest.Server
	DB     *database.DB
	Redis  *miniredis.Miniredis
	Email  *CapturingEmailSender
	Config *config.Config
}

// NewTestServer initializes a complete HTTP server on top of db.
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			CleanupInterval:    time.Hour,
			LockoutThreshold:   5,
			LockoutDuration:    2 * time.Hour,
		},
		Quota: config.QuotaConfig{
			FreeDailyLimit:       3,
			PremiumDailyLimit:    100,
			EnterpriseDailyLimit: 1000,
		},
		RateLimit: config.RateLimitConfig{
			DefaultMax:    100,
			DefaultWindow: time.Minute,
			LoginMax:      10,
			LoginWindow:   time.Minute,
		},
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	userRepo := repositories.NewUserRepository(db)
	securityRepo := repositories.NewUserSecurityRepository(db)
	revocationRepo := repositories.NewTokenRevocationRepository(redisClient)
	windowRepo := repositories.NewRateWindowRepository(redisClient)

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

	revocationService := services.NewTokenRevocationService(revocationRepo, services.FailOpen, logger)
	accountSecurity := services.NewAccountSecurityService(
		securityRepo,
		cfg.Auth.LockoutThreshold,
		cfg.Auth.LockoutDuration,
		services.FailClosed,
		logger,
	)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	authService := services.NewAuthService(userRepo, tokenManager, accountSecurity, revocationService, logger)
	userService := services.NewUserService(userRepo, quotaService, accountSecurity, revocationService, logger)

	emailSender := &CapturingEmailSender{}
	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{}

	authHandler := handlers.NewAuthHandler(authService, auditLogger, ipConfig)
	userHandler := handlers.NewUserHandler(userService)
	adminHandler := handlers.NewAdminHandler(userService, accountSecurity, revocationService, auditLogger, ipConfig)
	messageHandler := handlers.NewMessageHandler(userService, quotaService, emailSender)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
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
		HealthCheck: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
		AuthBurstLimit: 100,
	})

	return &TestServer{
		Server: httptest.NewServer(router),
		DB:     db,
		Redis:  mr,
		Email:  emailSender,
		Config: cfg,
	}, nil
}

// Close shuts down the test server and its counter store.
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.Redis != nil {
		ts.Redis.Close()
	}
}

// Request makes an HTTP request to the test server.
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a bearer token.
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses a JSON response body into target.
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse pulls the token pair out of an auth response.
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, err error) {
	defer resp.Body.Close()

	var authResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", "", err
	}

	if access, ok := authResp["access_token"].(string); ok {
		accessToken = access
	}
	if refresh, ok := authResp["refresh_token"].(string); ok {
		refreshToken = refresh
	}
	return accessToken, refreshToken, nil
}

// GetErrorCode extracts the machine-readable error code from an error
// response body.
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if code, ok := errResp["error"].(string); ok {
		return code, nil
	}
	return "", nil
}
