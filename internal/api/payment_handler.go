package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"resumatch/internal/api/middleware"
	"resumatch/internal/database"
	"resumatch/internal/payments"
)

// checkoutService is the slice of payments.Service the handler needs.
type checkoutService interface {
	CreateCheckoutSession(resume *database.Resume, successURL, cancelURL string) (string, error)
}

// PaymentHandler serves checkout creation and the Stripe webhook.
type PaymentHandler struct {
	db             *gorm.DB
	service        checkoutService
	logger         *slog.Logger
	webhookSecret  string
	frontendOrigin string
}

// NewPaymentHandler constructs the handler.
func NewPaymentHandler(db *gorm.DB, service checkoutService, logger *slog.Logger, webhookSecret, frontendOrigin string) *PaymentHandler {
	return &PaymentHandler{
		db:             db,
		service:        service,
		logger:         logger,
		webhookSecret:  webhookSecret,
		frontendOrigin: frontendOrigin,
	}
}

type createCheckoutRequest struct {
	ResumeID uint `json:"resume_id" binding:"required"`
}

// CreateCheckout creates a hosted checkout session for an owned, unpaid
// resume and returns its URL.
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	var req createCheckoutRequest
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

	if resume.IsPaid {
		BadRequest(c, "this resume has already been paid for")
		return
	}

	successURL := h.frontendOrigin + "/dashboard?payment=success"
	cancelURL := h.frontendOrigin + "/dashboard?payment=cancelled"

	checkoutURL, err := h.service.CreateCheckoutSession(&resume, successURL, cancelURL)
	if err != nil {
		logger.Error("create checkout session failed", slog.Any("error", err))
		Internal(c, "failed to create checkout session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout_url": checkoutURL})
}

// checkoutSessionData is the slice of the checkout.session.completed object
// the webhook needs.
type checkoutSessionData struct {
	Metadata map[string]string `json:"metadata"`
}

// HandleWebhook processes Stripe events. The signature is verified before
// anything is parsed out of the payload; an unverified payload is rejected
// outright. Application-level lookup misses still return 200 because Stripe
// retries on any non-2xx answer.
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("payment webhook: read body failed", slog.Any("error", err))
		BadRequest(c, "invalid payload")
		return
	}

	event, err := payments.VerifyEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("payment webhook: signature verification failed", slog.Any("error", err))
		BadRequest(c, "invalid signature")
		return
	}

	if string(event.Type) != payments.EventCheckoutCompleted {
		c.Status(http.StatusOK)
		return
	}

	var session checkoutSessionData
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Warn("payment webhook: unparseable session object", slog.Any("error", err))
		BadRequest(c, "invalid payload")
		return
	}

	rawResumeID := session.Metadata["resume_id"]
	if rawResumeID == "" {
		h.logger.Warn("payment webhook: checkout session missing resume_id metadata")
		c.Status(http.StatusOK)
		return
	}

	resumeID, err := strconv.ParseUint(rawResumeID, 10, 64)
	if err != nil {
		h.logger.Error("payment webhook: invalid resume_id in metadata",
			slog.String("resume_id", rawResumeID))
		c.Status(http.StatusOK)
		return
	}

	// Unconditional idempotent write: repeating the event for an already
	// paid resume is a no-op, not an error.
	res := h.db.WithContext(c.Request.Context()).
		Model(&database.Resume{}).
		Where("id = ?", resumeID).
		Update("is_paid", true)
	if res.Error != nil {
		h.logger.Error("payment webhook: mark resume paid failed",
			slog.Uint64("resume_id", resumeID),
			slog.Any("error", res.Error))
		// Let Stripe retry delivery; the write itself failed.
		Internal(c, "failed to record payment")
		return
	}
	if res.RowsAffected > 0 {
		h.logger.Info("resume marked as paid via webhook", slog.Uint64("resume_id", resumeID))
	} else {
		h.logger.Warn("payment webhook: resume not found", slog.Uint64("resume_id", resumeID))
	}

	c.Status(http.StatusOK)
}
