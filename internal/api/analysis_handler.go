package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resumatch/internal/api/middleware"
	"resumatch/internal/database"
	"resumatch/internal/tasks"
)

// taskEnqueuer is the slice of asynq.Client the handler needs.
type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AnalysisHandler serves analysis submission and polling.
type AnalysisHandler struct {
	db          *gorm.DB
	enqueuer    taskEnqueuer
	rateCounter redisRateCounter
	logger      *slog.Logger
	ratePerHour int
}

// NewAnalysisHandler constructs the handler. ratePerHour of 0 disables the
// submission rate limit.
func NewAnalysisHandler(db *gorm.DB, enqueuer taskEnqueuer, rateCounter redisRateCounter, logger *slog.Logger, ratePerHour int) *AnalysisHandler {
	return &AnalysisHandler{
		db:          db,
		enqueuer:    enqueuer,
		rateCounter: rateCounter,
		logger:      logger,
		ratePerHour: ratePerHour,
	}
}

type submitAnalysisRequest struct {
	ResumeID       uint   `json:"resume_id" binding:"required"`
	JobDescription string `json:"job_description" binding:"required,min=100"`
	JobTitle       string `json:"job_title" binding:"max=255"`
	Company        string `json:"company" binding:"max=255"`
}

type analysisResponse struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	MatchScore       *int       `json:"match_score"`
	HireProbability  *float64   `json:"hire_probability"`
	ATSFlags         []string   `json:"ats_flags"`
	RewrittenBullets []string   `json:"rewritten_bullets"`
	CoverLetter      string     `json:"cover_letter"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

func newAnalysisResponse(a database.AnalysisResult) analysisResponse {
	return analysisResponse{
		ID:               a.ID.String(),
		Status:           a.Status,
		MatchScore:       a.MatchScore,
		HireProbability:  a.HireProbability,
		ATSFlags:         decodeStringList(a.ATSFlags),
		RewrittenBullets: decodeStringList(a.RewrittenBullets),
		CoverLetter:      a.CoverLetter,
		ErrorMessage:     a.ErrorMessage,
		CreatedAt:        a.CreatedAt,
		CompletedAt:      a.CompletedAt,
	}
}

func decodeStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	return items
}

// SubmitAnalysis checks ownership and entitlement, creates the
// JobDescription and pending AnalysisResult atomically, and enqueues the
// background run. The client polls GetAnalysis for the outcome.
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	var req submitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c).With(
		slog.Uint64("resume_id", uint64(req.ResumeID)),
	)

	// AI calls are the expensive resource; cap submissions per user per hour.
	if h.ratePerHour > 0 && h.rateCounter != nil {
		rateKey := fmt.Sprintf("rate:analysis:%d:%s", userID, time.Now().UTC().Format("2006010215"))
		count, err := incrWithTTL(ctx, h.rateCounter, rateKey, time.Hour)
		if err != nil {
			count = 0
		}
		if count > int64(h.ratePerHour) {
			TooManyRequests(c)
			return
		}
	}

	// Ownership enforced at query level; a resume that exists but belongs to
	// someone else is indistinguishable from one that does not exist.
	var resume database.Resume
	err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", req.ResumeID, userID).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		logger.Error("query resume failed", slog.Any("error", err))
		Internal(c, "failed to query resume")
		return
	}

	if !resume.IsPaid && !isStaffFromContext(c) {
		PaymentRequired(c, "payment is required before running analysis")
		return
	}

	var result database.AnalysisResult
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobDesc := database.JobDescription{
			UserID:  userID,
			Title:   req.JobTitle,
			Company: req.Company,
			RawText: req.JobDescription,
		}
		if err := tx.Create(&jobDesc).Error; err != nil {
			return err
		}

		result = database.AnalysisResult{
			ResumeID:         resume.ID,
			JobDescriptionID: jobDesc.ID,
			Status:           database.AnalysisStatusPending,
		}
		return tx.Create(&result).Error
	})
	if err != nil {
		logger.Error("create analysis failed", slog.Any("error", err))
		Internal(c, "failed to create analysis")
		return
	}

	task, err := tasks.NewAnalysisRunTask(result.ID.String(), middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build analysis task failed", slog.Any("error", err))
		Internal(c, "failed to schedule analysis")
		return
	}
	if _, err := h.enqueuer.Enqueue(task); err != nil {
		logger.Error("enqueue analysis task failed", slog.Any("error", err))
		Internal(c, "failed to schedule analysis")
		return
	}

	logger.Info("analysis submitted", slog.String("analysis_id", result.ID.String()))
	c.JSON(http.StatusAccepted, newAnalysisResponse(result))
}

// GetAnalysis returns the current state of an analysis. Ownership runs
// transitively through the resume; pending and processing are expected
// non-final answers under the polling contract.
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	analysisID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		NotFound(c, "analysis not found")
		return
	}

	var result database.AnalysisResult
	err = h.db.WithContext(c.Request.Context()).
		Joins("JOIN resumes ON resumes.id = analysis_results.resume_id AND resumes.deleted_at IS NULL").
		Where("analysis_results.id = ? AND resumes.user_id = ?", analysisID, userID).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "analysis not found")
			return
		}
		middleware.LoggerFromContext(c).Error("query analysis failed", slog.Any("error", err))
		Internal(c, "failed to query analysis")
		return
	}

	c.JSON(http.StatusOK, newAnalysisResponse(result))
}
