package services

import (
	"errors"
	"time"

	"trencher/engine"
	"trencher/models"

	"gorm.io/gorm"
)

type QuizService struct {
	db *gorm.DB
}

func NewQuizService(db *gorm.DB) *QuizService {
	return &QuizService{db: db}
}

type CreateQuizRequest struct {
	Title       string                  `json:"title" binding:"required"`
	Description string                  `json:"description"`
	Questions   []CreateQuestionRequest `json:"questions" binding:"required,min=1"`
}

type CreateQuestionRequest struct {
	Text      string                `json:"text" binding:"required"`
	MediaURL  string                `json:"media_url"`
	TimeLimit int                   `json:"time_limit" binding:"required,min=5,max=300"`
	Order     int                   `json:"order" binding:"required"`
	Options   []CreateOptionRequest `json:"options" binding:"required,min=2,max=6"`
}

type CreateOptionRequest struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order" binding:"required"`
}

func (s *QuizService) CreateQuiz(userID uint, req *CreateQuizRequest) (*models.Quiz, error) {
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	quiz := models.Quiz{
		Title:       req.Title,
		Description: req.Description,
		UserID:      userID,
	}

	if err := tx.Create(&quiz).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, qReq := range req.Questions {
		question := models.Question{
			QuizID:    quiz.ID,
			Text:      qReq.Text,
			MediaURL:  qReq.MediaURL,
			TimeLimit: qReq.TimeLimit,
			Order:     qReq.Order,
		}

		if err := tx.Create(&question).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		correctCount := 0
		for _, optReq := range qReq.Options {
			if optReq.IsCorrect {
				correctCount++
			}
		}
		if correctCount != 1 {
			tx.Rollback()
			return nil, engine.Validationf("each question must have exactly one correct answer")
		}

		for _, optReq := range qReq.Options {
			option := models.Option{
				QuestionID: question.ID,
				Text:       optReq.Text,
				IsCorrect:  optReq.IsCorrect,
				Order:      optReq.Order,
			}

			if err := tx.Create(&option).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return s.GetQuizByID(quiz.ID, userID)
}

func (s *QuizService) GetUserQuizzes(userID uint) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := s.db.Where("user_id = ?", userID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order(`questions."order"`)
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order(`options."order"`)
		}).
		Order("created_at DESC").
		Find(&quizzes).Error
	return quizzes, err
}

func (s *QuizService) GetQuizByID(quizID uint, userID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.db.Where("id = ? AND user_id = ?", quizID, userID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order(`questions."order"`)
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order(`options."order"`)
		}).
		First(&quiz).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, engine.NotFoundf("quiz %d not found", quizID)
	}
	return &quiz, err
}

func (s *QuizService) DeleteQuiz(quizID uint, userID uint) error {
	if _, err := s.GetQuizByID(quizID, userID); err != nil {
		return err
	}
	return s.db.Delete(&models.Quiz{}, quizID).Error
}

// Snapshot loads a quiz for play, regardless of owner, and resolves
// each question's correct option to its index in option order. The
// first option flagged correct wins, so duplicate option text can
// never make correctness ambiguous during play.
func (s *QuizService) Snapshot(quizID uint) (engine.QuizSnapshot, error) {
	var quiz models.Quiz
	err := s.db.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order(`questions."order"`)
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order(`options."order"`)
		}).
		First(&quiz, quizID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.QuizSnapshot{}, engine.NotFoundf("quiz %d not found", quizID)
	}
	if err != nil {
		return engine.QuizSnapshot{}, err
	}

	snap := engine.QuizSnapshot{
		QuizID: quiz.ID,
		Title:  quiz.Title,
	}
	for _, q := range quiz.Questions {
		qs := engine.QuestionSnapshot{
			Text:         q.Text,
			MediaURL:     q.MediaURL,
			CorrectIndex: -1,
			TimeLimit:    time.Duration(q.TimeLimit) * time.Second,
		}
		for i, opt := range q.Options {
			qs.Options = append(qs.Options, opt.Text)
			if opt.IsCorrect && qs.CorrectIndex < 0 {
				qs.CorrectIndex = i
			}
		}
		if qs.CorrectIndex < 0 {
			return engine.QuizSnapshot{}, engine.Validationf("question %d has no correct option", q.ID)
		}
		snap.Questions = append(snap.Questions, qs)
	}
	return snap, nil
}

// CountPlay bumps the quiz play counter.
func (s *QuizService) CountPlay(quizID uint) error {
	return s.db.Model(&models.Quiz{}).Where("id = ?", quizID).
		Update("plays", gorm.Expr("plays + 1")).Error
}
