package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"resumatch/internal/api/middleware"
	"resumatch/internal/auth"
	"resumatch/internal/config"
	"resumatch/internal/payments"
	"resumatch/internal/storage"
)

// RegisterRoutes mounts the API surface under /v1. The payment webhook sits
// outside the auth group: its only authentication is the Stripe signature.
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	paymentService *payments.Service,
) {
	authHandler := NewAuthHandler(db, authService, redisClient, logger, cfg.Auth.LoginRateLimitPerHour)
	resumeHandler := NewResumeHandler(db, storageClient, logger, cfg.Upload)
	analysisHandler := NewAnalysisHandler(db, asynqClient, redisClient, logger, cfg.AI.AnalysisRateLimitPerHour)
	paymentHandler := NewPaymentHandler(db, paymentService, logger, cfg.Stripe.WebhookSecret, cfg.API.FrontendOrigin)
	wsHandler := NewWsHandler(redisClient, authService, logger, []string{cfg.API.FrontendOrigin})
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.GET("/me", authMiddleware, authHandler.Me)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware)
		{
			resumeGroup.POST("", resumeHandler.UploadResume)
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)
		}

		analysisGroup := v1.Group("/analyses")
		analysisGroup.Use(authMiddleware)
		{
			analysisGroup.POST("", analysisHandler.SubmitAnalysis)
			analysisGroup.GET("/:id", analysisHandler.GetAnalysis)
		}

		paymentGroup := v1.Group("/payments")
		{
			paymentGroup.POST("/checkout", authMiddleware, paymentHandler.CreateCheckout)
			paymentGroup.POST("/webhook", paymentHandler.HandleWebhook)
		}
	}
}
