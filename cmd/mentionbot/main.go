package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/umairimran/kaspaBot/internal/answer"
	"github.com/umairimran/kaspaBot/internal/bot"
	"github.com/umairimran/kaspaBot/internal/config"
	"github.com/umairimran/kaspaBot/internal/handler"
	"github.com/umairimran/kaspaBot/internal/ratelimit"
	"github.com/umairimran/kaspaBot/internal/repository"
	"github.com/umairimran/kaspaBot/internal/twitter"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting mention bot...")

	// Credentials come from the environment; a local .env is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env", zap.Error(err))
	}

	// Load configuration
	cfg, err := config.LoadConfig("configs/config.yml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize store
	os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755)

	store, err := repository.NewStore(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	// Rate limit tracker shares the store so quota survives restarts
	tracker := ratelimit.NewTracker(store, cfg.SearchInterval(), cfg.Twitter.DailyPostLimit, logger)

	// Platform client
	platform, err := twitter.NewClient(twitter.Config{
		BaseURL:     cfg.Twitter.BaseURL,
		BearerToken: cfg.Twitter.BearerToken,
		AccessToken: cfg.Twitter.AccessToken,
		BotHandle:   cfg.Twitter.BotHandle,
		BotUserID:   cfg.Twitter.BotUserID,
		MaxResults:  cfg.Twitter.MaxResults,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize platform client", zap.Error(err))
	}

	// Answer service client
	answerer := answer.NewClient(cfg.Answer.BaseURL, cfg.AnswerTimeout(), logger)
	if err := answerer.Ping(context.Background()); err != nil {
		logger.Warn("Answer service not reachable at startup", zap.Error(err))
	}

	// Orchestrator
	engine := bot.NewEngine(cfg, store, tracker, platform, answerer, logger)
	engine.Start()

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(engine, store, logger)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	router.Use(handler.CORSMiddleware())
	router.Use(handler.RequestIDMiddleware())

	apiHandler.RegisterRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Mention bot is running",
		zap.String("port", cfg.Server.Port),
		zap.String("handle", cfg.Twitter.BotHandle),
		zap.String("search_interval", cfg.Twitter.SearchInterval),
		zap.Int("daily_post_limit", cfg.Twitter.DailyPostLimit))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Let the in-flight cycle finish before tearing down the API.
	engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Mention bot exited")
}
