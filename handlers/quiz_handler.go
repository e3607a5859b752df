package handlers

import (
	"net/http"

	"trencher/services"

	"github.com/gin-gonic/gin"
)

type QuizHandler struct {
	quizzes *services.QuizService
}

func NewQuizHandler(quizzes *services.QuizService) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

func userID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return 0, false
	}
	return v.(uint), true
}

func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req services.CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizzes.CreateQuiz(uid, &req)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quiz)
}

func (h *QuizHandler) GetUserQuizzes(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	quizzes, err := h.quizzes.GetUserQuizzes(uid)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, quizzes)
}

func (h *QuizHandler) GetQuizByID(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quiz id"})
		return
	}

	quiz, err := h.quizzes.GetQuizByID(uri.ID, uid)
	if err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, quiz)
}

func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quiz id"})
		return
	}

	if err := h.quizzes.DeleteQuiz(uri.ID, uid); err != nil {
		abortWithEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "quiz deleted"})
}
