package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resumatch/internal/ai"
	"resumatch/internal/database"
	"resumatch/internal/errcode"
	"resumatch/internal/tasks"
)

// Messages stored on the record and shown to users. Diagnostic detail
// (provider name, truncated raw output) stays in the logs only.
const (
	failureMessageDecode   = "The AI provider returned an unreadable response. Please try again."
	failureMessageProvider = "The analysis could not be completed. Please try again."
)

// AnalysisTaskHandler consumes analysis:run tasks. Each record is mutated by
// at most one invocation at a time; asynq's single-delivery-in-flight
// semantics stand in for explicit locking.
type AnalysisTaskHandler struct {
	db          *gorm.DB
	provider    ai.Provider
	redisClient redis.UniversalClient
	logger      *slog.Logger
}

// NewAnalysisTaskHandler builds the task handler.
func NewAnalysisTaskHandler(db *gorm.DB, provider ai.Provider, redisClient redis.UniversalClient, logger *slog.Logger) *AnalysisTaskHandler {
	return &AnalysisTaskHandler{
		db:          db,
		provider:    provider,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask implements asynq.Handler. It drives one analysis from pending
// to a terminal state: persist processing, build the prompt, call the
// provider, decode, persist the result. Provider and decode failures are
// returned so asynq retries them; on the final attempt the record is marked
// failed instead of being left in processing.
func (h *AnalysisTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.AnalysisRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("analysis_id", payload.AnalysisID),
	)

	var result database.AnalysisResult
	err := h.db.WithContext(ctx).
		Preload("Resume").
		Preload("JobDescription").
		First(&result, "id = ?", payload.AnalysisID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Record deleted concurrently; not a task failure.
			log.Warn("analysis record not found, skipping task")
			return nil
		}
		log.Error("query analysis record failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(result.Resume.UserID)))

	// At-least-once delivery can hand us a record that already finished.
	if result.Terminal() {
		log.Info("analysis already terminal, skipping re-delivery",
			slog.String("status", result.Status))
		return nil
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}
		h.markFailed(ctx, log, &result, payload.CorrelationID, retErr)
	}()

	// Persist processing before the provider call so a crash mid-call leaves
	// the record visibly in progress rather than silently pending.
	if err := h.db.WithContext(ctx).
		Model(&result).
		Update("status", database.AnalysisStatusProcessing).Error; err != nil {
		log.Error("mark analysis processing failed", slog.Any("error", err))
		return err
	}

	log.Info("analysis started", slog.String("provider", h.provider.Name()))

	prompt := ai.BuildAnalysisPrompt(result.Resume.ParsedText, result.JobDescription.RawText)

	raw, err := h.provider.Generate(ctx, prompt)
	if err != nil {
		log.Error("provider call failed", slog.Any("error", err))
		return err
	}

	decoded, err := ai.Decode(h.provider.Name(), raw)
	if err != nil {
		log.Error("decode provider response failed", slog.Any("error", err))
		return err
	}

	atsFlags, err := json.Marshal(decoded.ATSFlags)
	if err != nil {
		return fmt.Errorf("marshal ats flags: %w", err)
	}
	bullets, err := json.Marshal(decoded.RewrittenBullets)
	if err != nil {
		return fmt.Errorf("marshal rewritten bullets: %w", err)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":            database.AnalysisStatusDone,
		"match_score":       decoded.MatchScore,
		"hire_probability":  decoded.HireProbability,
		"ats_flags":         datatypes.JSON(atsFlags),
		"rewritten_bullets": datatypes.JSON(bullets),
		"cover_letter":      decoded.CoverLetter,
		"completed_at":      now,
	}
	if err := h.db.WithContext(ctx).
		Model(&database.AnalysisResult{}).
		Where("id = ?", result.ID).
		Updates(updates).Error; err != nil {
		log.Error("persist analysis result failed", slog.Any("error", err))
		return err
	}

	notify := AnalysisNotifyMessage{
		Status:        database.AnalysisStatusDone,
		AnalysisID:    result.ID.String(),
		ResumeID:      result.ResumeID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishAnalysisNotify(ctx, result.Resume.UserID, notify); err != nil {
		log.Warn("publish analysis notification failed", slog.Any("error", err))
	}

	log.Info("analysis completed", slog.Int("match_score", decoded.MatchScore))
	return nil
}

// failureDetails maps a terminal cause to the notification error code and
// the user-facing message stored on the record. Decode failures are business
// errors (the provider answered, unusably); everything else is a system
// error.
func failureDetails(cause error) (int, string) {
	var decodeErr *ai.DecodeError
	if errors.As(cause, &decodeErr) {
		return errcode.AnalysisFailed, failureMessageDecode
	}
	return errcode.SystemError, failureMessageProvider
}

// markFailed records the terminal failed state once the retry budget is
// exhausted. The stored message is user-facing; the cause stays in the logs.
func (h *AnalysisTaskHandler) markFailed(ctx context.Context, log *slog.Logger, result *database.AnalysisResult, correlationID string, cause error) {
	code, message := failureDetails(cause)

	now := time.Now().UTC()
	err := h.db.WithContext(ctx).
		Model(&database.AnalysisResult{}).
		Where("id = ? AND status NOT IN ?", result.ID,
			[]string{database.AnalysisStatusDone, database.AnalysisStatusFailed}).
		Updates(map[string]any{
			"status":        database.AnalysisStatusFailed,
			"error_message": message,
			"completed_at":  now,
		}).Error
	if err != nil {
		log.Error("mark analysis failed errored", slog.Any("error", err))
		return
	}

	notify := AnalysisNotifyMessage{
		Status:        database.AnalysisStatusFailed,
		AnalysisID:    result.ID.String(),
		ResumeID:      result.ResumeID,
		CorrelationID: correlationID,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
	if err := h.publishAnalysisNotify(ctx, result.Resume.UserID, notify); err != nil {
		log.Warn("publish failure notification failed", slog.Any("error", err))
	}
}

func (h *AnalysisTaskHandler) publishAnalysisNotify(ctx context.Context, userID uint, notify AnalysisNotifyMessage) error {
	if h.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
