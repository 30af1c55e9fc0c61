package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"resumatch/internal/api/middleware"
	"resumatch/internal/config"
	"resumatch/internal/database"
	"resumatch/internal/extract"
)

const downloadLinkTTL = 15 * time.Minute

var errInvalidResumeID = errors.New("invalid resume id")

// resumeStorage is the slice of the storage client the handler needs.
type resumeStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// ResumeHandler serves resume upload, listing and retrieval.
type ResumeHandler struct {
	db      *gorm.DB
	storage resumeStorage
	logger  *slog.Logger
	upload  config.UploadConfig
}

// NewResumeHandler constructs the handler.
func NewResumeHandler(db *gorm.DB, storageClient resumeStorage, logger *slog.Logger, upload config.UploadConfig) *ResumeHandler {
	return &ResumeHandler{
		db:      db,
		storage: storageClient,
		logger:  logger,
		upload:  upload,
	}
}

type resumeResponse struct {
	ID               uint      `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	FileSize         int64     `json:"file_size"`
	MimeType         string    `json:"mime_type"`
	IsPaid           bool      `json:"is_paid"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

func newResumeResponse(r database.Resume) resumeResponse {
	return resumeResponse{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		FileSize:         r.FileSize,
		MimeType:         r.MimeType,
		IsPaid:           r.IsPaid,
		UploadedAt:       r.CreatedAt,
	}
}

// UploadResume accepts a multipart PDF/DOCX upload. The file is size-capped,
// virus-scanned, MIME-sniffed from magic bytes and stored in MinIO; text
// extraction is best-effort and an unparseable document still uploads with
// empty parsed text.
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	logger := middleware.LoggerFromContext(c)

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if file.Size > h.upload.MaxBytes {
		BadRequest(c, fmt.Sprintf("file too large, maximum allowed size is %d bytes", h.upload.MaxBytes))
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(io.LimitReader(fileReader, h.upload.MaxBytes+1))
	fileReader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if int64(len(data)) > h.upload.MaxBytes {
		BadRequest(c, fmt.Sprintf("file too large, maximum allowed size is %d bytes", h.upload.MaxBytes))
		return
	}

	if h.upload.ClamdAddr != "" {
		if err := h.scanForMalware(data); err != nil {
			logger.Warn("upload rejected by virus scan", slog.Any("error", err))
			BadRequest(c, "malicious file detected")
			return
		}
	}

	mimeType, err := extract.SniffMime(data)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	parsedText := extract.Text(data, mimeType, logger)

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if ext == "" {
		ext = "bin"
	}
	objectKey := fmt.Sprintf("resumes/%d/%s.%s", userID, uuid.NewString(), ext)

	ctx := c.Request.Context()
	if _, err := h.storage.UploadFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		logger.Error("upload resume file failed", slog.Any("error", err))
		Internal(c, "failed to store file")
		return
	}

	resume := database.Resume{
		UserID:           userID,
		OriginalFilename: file.Filename,
		ObjectKey:        objectKey,
		FileSize:         int64(len(data)),
		MimeType:         mimeType,
		ParsedText:       parsedText,
	}
	if err := h.db.WithContext(ctx).Create(&resume).Error; err != nil {
		logger.Error("create resume record failed", slog.Any("error", err))
		Internal(c, "failed to create resume")
		return
	}

	logger.Info("resume uploaded",
		slog.Uint64("resume_id", uint64(resume.ID)),
		slog.Int("parsed_chars", len(parsedText)),
	)
	c.JSON(http.StatusCreated, newResumeResponse(resume))
}

func (h *ResumeHandler) scanForMalware(data []byte) error {
	clamdClient := clamd.NewClamd(h.upload.ClamdAddr)

	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamdClient.ScanStream(bytes.NewReader(data), abortChan)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return fmt.Errorf("scan verdict %s: %s", result.Status, result.Description)
		}
	}
	return nil
}

// ListResumes lists the caller's resumes.
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var resumes []database.Resume
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeResponse, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, newResumeResponse(r))
	}
	c.JSON(http.StatusOK, items)
}

// GetResume returns a single owned resume.
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c, userID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(*resume))
}

// DeleteResume removes the stored object first, then the record. Analyses
// cascade with the record.
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c, userID)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	if err := h.storage.DeleteObject(ctx, resume.ObjectKey); err != nil {
		middleware.LoggerFromContext(c).Error("delete resume object failed", slog.Any("error", err))
		Internal(c, "failed to delete file")
		return
	}

	if err := h.db.WithContext(ctx).Delete(resume).Error; err != nil {
		Internal(c, "failed to delete resume")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetDownloadLink returns a presigned, time-limited download URL.
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resume, err := h.getResumeForUser(c, userID)
	if err != nil {
		return
	}

	url, err := h.storage.GeneratePresignedURL(c.Request.Context(), resume.ObjectKey, downloadLinkTTL)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"download_url": url, "expires_in": int(downloadLinkTTL.Seconds())})
}

// getResumeForUser loads an owned resume by path param and writes the error
// response itself on failure.
func (h *ResumeHandler) getResumeForUser(c *gin.Context, userID uint) (*database.Resume, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid resume id")
		return nil, errInvalidResumeID
	}

	var resume database.Resume
	err = h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		First(&resume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
		} else {
			Internal(c, "failed to query resume")
		}
		return nil, err
	}
	return &resume, nil
}
