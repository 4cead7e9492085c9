package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/api"
	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/gateway"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to initialise: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	store, err := db.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("store: failed to open", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("store: close error", zap.Error(err))
		}
	}()

	completion := gateway.New(cfg.Completion, logger)
	if os.Getenv(cfg.Completion.CredentialEnv) == "" {
		// not fatal: the proxy answers 500 per request until the key is set
		logger.Warn("completion credential not set", zap.String("env", cfg.Completion.CredentialEnv))
	}

	handler := api.NewHandler(store, completion, api.Options{
		SessionID:     cfg.SessionID,
		SystemPrompt:  cfg.Chat.SystemPrompt,
		HistoryWindow: cfg.Chat.HistoryWindow,
	}, logger)

	router := setupRouter(handler, store)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Completion.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.String("session", cfg.SessionID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func setupRouter(handler *api.Handler, store pinger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		storeStatus := "ok"
		if err := store.Ping(pingCtx); err != nil {
			status = http.StatusServiceUnavailable
			storeStatus = err.Error()
		}

		c.JSON(status, gin.H{
			"status":    http.StatusText(status),
			"store":     storeStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)

	return router
}
