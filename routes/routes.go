package routes

import (
	"net/http"

	"trencher/handlers"
	"trencher/middleware"
	"trencher/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // clients connect from arbitrary origins
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	quizHandler *handlers.QuizHandler,
	gameHandler *handlers.GameHandler,
	uploadHandler *handlers.UploadHandler,
	authService *services.AuthService,
	hub *services.Hub,
) {
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			quizzes := protected.Group("/quizzes")
			{
				quizzes.GET("", quizHandler.GetUserQuizzes)
				quizzes.POST("", quizHandler.CreateQuiz)
				quizzes.GET("/:id", quizHandler.GetQuizByID)
				quizzes.DELETE("/:id", quizHandler.DeleteQuiz)
			}

			protected.POST("/upload", uploadHandler.Upload)
		}

		games := api.Group("/games")
		{
			games.POST("", gameHandler.CreateGame)
			games.GET("", gameHandler.ListGames)
			games.GET("/:code", gameHandler.GetGame)
			games.POST("/:code/join", gameHandler.JoinGame)
			games.POST("/:code/escrow", gameHandler.SetEscrow)
		}
	}

	// Realtime channel; commands carry their own identity, so the
	// upgrade itself only needs a session code.
	router.GET("/ws/:code", func(c *gin.Context) {
		code := c.Param("code")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("code", code).Msg("websocket upgrade failed")
			return
		}
		hub.RegisterClient(conn, code)
	})

	router.Static("/uploads", uploadHandler.Dir())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
