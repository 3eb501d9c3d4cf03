package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"stockboard/authz"
	"stockboard/cache"
	"stockboard/config"
	"stockboard/handlers"
	"stockboard/ingest"
	"stockboard/middleware"
	"stockboard/notify"
	"stockboard/predict"
	"stockboard/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	lvl, _ := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)

	// Initialize PostgreSQL and Redis connections.
	config.InitDB()
	config.InitRedis()

	sqlDB, err := config.DB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get database instance")
	}
	defer sqlDB.Close()

	st := store.New(config.DB)
	if err := st.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate models")
	}

	var channel notify.Channel
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		channel, err = notify.NewTelegramChannel(token)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect Telegram channel")
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, notifications disabled")
		channel = notify.NopChannel{}
	}

	predictionCache := cache.NewPredictionCache(config.Rdb)
	guard := authz.NewGuard(st)
	dispatcher := notify.NewDispatcher(st, channel)
	ingestSvc := ingest.NewService(st, predictionCache)
	engine := predict.NewEngine(st, predict.NewDampedTrend(), dispatcher)

	sweeper, err := notify.NewSweeper(dispatcher, "@every 5m")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule notification sweeper")
	}
	sweeper.Start()

	h := handlers.New(st, guard, ingestSvc, engine, dispatcher, predictionCache)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog())
	router.Use(middleware.SecureHeaders())
	router.Use(middleware.RateLimit(rate.Limit(10), 30))

	// Public routes
	api := router.Group("/api")
	api.POST("/auth/signup", handlers.Signup)
	api.POST("/auth/login", handlers.Login)
	api.POST("/auth/refresh", handlers.Refresh)

	// Protected routes
	auth := api.Group("/")
	auth.Use(middleware.JWTAuth())
	{
		auth.DELETE("/auth/account", handlers.DeleteAccount)

		dashboard := auth.Group("/dashboard")
		dashboard.GET("/companies", h.ListCompanies)
		dashboard.POST("/companies", h.CreateCompany)
		dashboard.GET("/companies/:companyId", h.GetCompany)
		dashboard.PUT("/companies/:companyId", h.UpdateCompany)
		dashboard.DELETE("/companies/:companyId", h.DeleteCompany)
		dashboard.GET("/companies/:companyId/stocks", h.GetStocks)
		dashboard.POST("/companies/:companyId/data", h.IngestData)
		dashboard.GET("/companies/:companyId/prediction", h.GetPrediction)
		dashboard.POST("/companies/:companyId/prediction", h.CreatePrediction)
		dashboard.GET("/companies/:companyId/predictions", h.ListPredictions)
		dashboard.GET("/companies/:companyId/chat", h.GetChat)
		dashboard.PUT("/companies/:companyId/chat", h.UpdateChat)
	}

	addr := ":" + config.Port()
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	// Drain in-flight requests and pending notifications on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	sweeper.Stop()
	dispatcher.Wait()
}
