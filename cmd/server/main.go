package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recapio/recap-server/internal/admin"
	"github.com/recapio/recap-server/internal/auth"
	"github.com/recapio/recap-server/internal/background"
	"github.com/recapio/recap-server/internal/config"
	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/insights"
	"github.com/recapio/recap-server/internal/live"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/meetings"
	"github.com/recapio/recap-server/internal/metrics"
	"github.com/recapio/recap-server/internal/storage/sqlite"
	"github.com/recapio/recap-server/internal/transcribe"
	"github.com/recapio/recap-server/internal/usage"
	"github.com/recapio/recap-server/internal/zoomimport"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("setting gin mode", "mode", cfg.GinMode)
	gin.SetMode(cfg.GinMode)

	// Initialize database.
	store, err := sqlite.InitDatabase(cfg.DatabasePath, sqlite.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	transcriber, extractor, transcribeReady, extractReady := buildProviders(cfg, log)

	// Initialize services.
	gate := usage.NewGate(store, log)
	registry := live.NewRegistry(log)
	liveService := live.NewService(store, registry, transcriber, extractor, gate, log)
	meetingService := meetings.NewService(store, transcriber, extractor, gate, log)
	engine := insights.NewEngine(store, log)
	zoomService := zoomimport.NewService(store, meetingService, log, cfg.ZoomClientID, cfg.ZoomClientSecret)
	backgroundService := background.NewService(store, log)

	// Initialize handlers.
	authm := auth.NewMiddleware(store, cfg.SessionSecret, cfg.SessionCookie, cfg.AdminEmail)
	liveHandler := live.NewHandler(liveService, registry, gate, log, cfg.KeepaliveInterval, cfg.MaxUploadBytes, transcribeReady)
	meetingHandler := meetings.NewHandler(meetingService, store, engine, gate, log,
		cfg.MaxUploadBytes, transcribeReady, extractReady)
	zoomHandler := zoomimport.NewHandler(zoomService, gate, log, transcribeReady)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))

	// Unauthenticated surface.
	router.GET("/health", healthHandler(cfg, transcribeReady, extractReady))
	router.GET("/metrics", metrics.Handler())

	// Everything else requires a session.
	liveHandler.RegisterRoutes(router.Group("/live", authm.RequireAuth()))
	meetingHandler.RegisterRoutes(router.Group("/meetings", authm.RequireAuth()))
	meetingHandler.RegisterIssueRoutes(router.Group("/issues", authm.RequireAuth()))
	zoomHandler.RegisterRoutes(router.Group("/zoom", authm.RequireAuth()))

	adminHandler := admin.NewHandler(store, log)
	adminHandler.RegisterRoutes(router.Group("/admin", authm.RequireAuth(), authm.RequireAdmin()))

	if err := backgroundService.Start(); err != nil {
		log.Error("failed to start background jobs", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port, "mock_mode", cfg.MockMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	backgroundService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

// buildProviders selects mock or real providers. MOCK_MODE wins over keys; a
// missing key leaves the provider nil and its endpoints answering 501.
func buildProviders(cfg *config.Config, log *logger.Logger) (transcribe.Provider, extract.Provider, bool, bool) {
	if cfg.MockMode {
		return transcribe.NewMockProvider(), extract.NewMockProvider(), true, true
	}

	p := cfg.Providers

	// A nil provider is "unavailable": its endpoints answer 501 and the
	// stop-time extraction degrades to an empty record.
	var transcriber transcribe.Provider
	transcribeReady := cfg.TranscribeAPIKey != ""
	if transcribeReady {
		transcriber = transcribe.NewClient(cfg.TranscribeAPIKey, p.TranscribeBaseURL, p.TranscribeModel, p.TimeoutSeconds, log)
	}

	var extractor extract.Provider
	extractReady := cfg.ExtractAPIKey != ""
	if extractReady {
		extractor = extract.NewClient(cfg.ExtractAPIKey, p.ExtractBaseURL, p.ExtractModel, p.ExtractMaxTokens, p.TimeoutSeconds, log)
	}

	return transcriber, extractor, transcribeReady, extractReady
}

func healthHandler(cfg *config.Config, transcribeReady, extractReady bool) gin.HandlerFunc {
	mode := "real"
	if cfg.MockMode {
		mode = "mock"
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"mode":       mode,
			"transcribe": transcribeReady,
			"extract":    extractReady,
			"zoom":       cfg.ZoomClientID != "" && cfg.ZoomClientSecret != "",
		})
	}
}

// corsMiddleware is a minimal allow-list CORS layer; "*" allows any origin.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	allowAll := false
	for _, origin := range strings.Split(allowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowAll = true
		} else if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll || ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
