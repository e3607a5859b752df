package handlers

import (
	"net/http"

	"trencher/engine"
	"trencher/services"

	"github.com/gin-gonic/gin"
)

type GameHandler struct {
	games *services.GameService
}

func NewGameHandler(games *services.GameService) *GameHandler {
	return &GameHandler{games: games}
}

// abortWithEngineError maps an engine error kind onto an HTTP status.
func abortWithEngineError(c *gin.Context, err error) {
	e := engine.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"error": e.Message, "kind": e.Kind})
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	var req services.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sum, err := h.games.CreateGame(&req)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sum)
}

func (h *GameHandler) ListGames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"games": h.games.ListGames()})
}

func (h *GameHandler) GetGame(c *gin.Context) {
	sum, err := h.games.GetGame(c.Param("code"))
	if err != nil {
		abortWithEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *GameHandler) JoinGame(c *gin.Context) {
	var req services.JoinGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.games.JoinGame(c.Param("code"), &req)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player":   res.Player,
		"rejoined": res.Rejoined,
		"game":     res.Summary,
	})
}

func (h *GameHandler) SetEscrow(c *gin.Context) {
	var req services.SetEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.games.SetEscrow(c.Param("code"), &req); err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "escrow recorded"})
}
