package main

import (
	"os"
	"time"

	"trencher/config"
	"trencher/engine"
	"trencher/handlers"
	"trencher/middleware"
	"trencher/models"
	"trencher/routes"
	"trencher/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.Game{},
		&models.Player{},
		&models.GameAnswer{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	redisClient := config.InitRedis(cfg)
	stateStore := services.NewStateStore(redisClient)

	registry := engine.NewRegistry(
		engine.WithConfig(engine.Config{
			Countdown:   cfg.Countdown,
			RevealDelay: cfg.RevealDelay,
		}),
		engine.WithSnapshotSink(stateStore),
	)

	authService := services.NewAuthService(db, cfg.JWTSecret)
	quizService := services.NewQuizService(db)
	gameService := services.NewGameService(db, registry, quizService)
	registry.SetFinishHook(gameService.Archive)

	hub := services.NewHub(registry, gameService)
	registry.SetBroadcaster(hub)
	go hub.Run()

	sweeper, err := services.StartSweeper(registry, cfg.SweepInterval, cfg.SweepRetention, cfg.SweepIdle)
	if err != nil {
		log.Fatal().Err(err).Msg("start sweeper")
	}
	defer func() { _ = sweeper.Shutdown() }()

	authHandler := handlers.NewAuthHandler(authService)
	quizHandler := handlers.NewQuizHandler(quizService)
	gameHandler := handlers.NewGameHandler(gameService)
	uploadHandler, err := handlers.NewUploadHandler(cfg.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("init upload dir")
	}

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, authHandler, quizHandler, gameHandler, uploadHandler, authService, hub)

	addr := cfg.BindAddress + ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
