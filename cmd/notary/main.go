package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/health"
	"github.com/jmerrifield20/starregistry/internal/notary/handler"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"github.com/jmerrifield20/starregistry/internal/receipt"
	"github.com/jmerrifield20/starregistry/internal/signature"
	"github.com/jmerrifield20/starregistry/internal/webhooks"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("notary exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("notary")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.issuer_url", "")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.claims_per_minute", 6)
	viper.SetDefault("ledger.challenge_window_seconds", 300)
	viper.SetDefault("ledger.check_interval_seconds", 60)
	viper.SetDefault("ledger.check_fail_threshold", 3)
	viper.SetDefault("receipt.enabled", true)
	viper.SetDefault("receipt.secret", "")
	viper.SetDefault("receipt.ttl_seconds", 365*24*3600)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("webhooks.admin_token", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	httpPort := viper.GetInt("server.port")
	issuerURL := viper.GetString("server.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	// ── Ledger ───────────────────────────────────────────────────────────────
	store := chain.NewStore(chain.SHA256Hasher{})
	svc := service.NewNotaryService(store, challenge.NewIssuer(), signature.NewBitcoinVerifier(), logger)
	svc.SetChallengeWindow(time.Duration(viper.GetInt("ledger.challenge_window_seconds")) * time.Second)

	metricsEnabled := viper.GetBool("metrics.enabled")
	if metricsEnabled {
		svc.SetAuditObserver(handler.ObserveAudit)
	}

	// ── Webhooks ─────────────────────────────────────────────────────────────
	whSvc := webhooks.NewService(webhooks.NewMemoryStore(), logger)
	if metricsEnabled {
		whSvc.SetMetricsRecorder(handler.RecordWebhookDelivery)
	}
	var staticSubs []webhooks.CreateSubscriptionRequest
	if err := viper.UnmarshalKey("webhooks.subscriptions", &staticSubs); err != nil {
		return fmt.Errorf("parse webhooks.subscriptions: %w", err)
	}
	for i := range staticSubs {
		if _, err := whSvc.Subscribe(context.Background(), &staticSubs[i]); err != nil {
			return fmt.Errorf("webhook subscription %d: %w", i, err)
		}
	}
	svc.SetEventDispatcher(whSvc)

	startCtx := context.Background()
	if err := svc.Initialize(startCtx); err != nil {
		return fmt.Errorf("initialise ledger: %w", err)
	}
	logger.Info("ledger ready", zap.Int("height", svc.Height()))
	if metricsEnabled {
		handler.SetChainHeight(svc.Height())
	}

	// ── Receipts ─────────────────────────────────────────────────────────────
	var receipts *receipt.Issuer
	if viper.GetBool("receipt.enabled") {
		secret := viper.GetString("receipt.secret")
		if secret == "" {
			logger.Warn("receipt.secret not set, receipts will not survive a restart")
		}
		var err error
		receipts, err = receipt.NewIssuer(
			[]byte(secret),
			issuerURL,
			time.Duration(viper.GetInt("receipt.ttl_seconds"))*time.Second,
		)
		if err != nil {
			return fmt.Errorf("receipt issuer: %w", err)
		}
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	limiter := handler.NewLimiter()
	go limiter.Run(bgCtx, 5*time.Minute)

	starHandler := handler.NewStarHandler(svc, receipts, logger)
	if n := viper.GetInt("server.claims_per_minute"); n > 0 {
		starHandler.SetClaimLimit(limiter.PerAddress(n, n))
	}
	ledgerHandler := handler.NewLedgerHandler(svc, logger)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// ── Background: periodic full-chain integrity check ──────────────────────
	checker := health.New(svc, health.Config{
		CheckInterval: time.Duration(viper.GetInt("ledger.check_interval_seconds")) * time.Second,
		FailThreshold: viper.GetInt("ledger.check_fail_threshold"),
	}, logger)
	if metricsEnabled {
		checker.SetMetricsRecord(handler.RecordLedgerCheck)
	}
	checker.SetWebhookDispatch(whSvc.Dispatch)
	checker.Check(startCtx)
	go checker.Start(bgCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", handler.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Star stories are small; 64 KB is plenty.
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<16)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(limiter.PerIP(rps, rps*2))
	}
	if metricsEnabled {
		router.Use(handler.PrometheusMiddleware())
	}
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		st := checker.Status()
		code := http.StatusOK
		if st.State == health.StateDegraded {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": st.State, "ledger": st})
	})
	if metricsEnabled {
		router.GET("/metrics", handler.MetricsHandler())
	}

	v1 := router.Group("/api/v1")
	starHandler.Register(v1)
	ledgerHandler.Register(v1)
	if adminToken := viper.GetString("webhooks.admin_token"); adminToken != "" {
		webhooks.NewHandler(whSvc, adminToken, logger).Register(v1)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("notary HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down notary...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	whSvc.Wait()

	logger.Info("notary stopped", zap.Int("height", svc.Height()))
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
