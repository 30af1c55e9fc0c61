package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Analysis status values. Transitions are one-directional:
// pending -> processing -> done|failed. done and failed are terminal.
const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusDone       = "done"
	AnalysisStatusFailed     = "failed"
)

// User represents an account. Staff accounts bypass the payment gate.
type User struct {
	gorm.Model
	Username     string   `gorm:"uniqueIndex;size:64"`
	PasswordHash string   `gorm:"size:255"`
	IsStaff      bool     `gorm:"default:false"`
	Resumes      []Resume `gorm:"constraint:OnDelete:CASCADE"`
}

// Resume represents an uploaded resume file and its extracted text.
// IsPaid is flipped exclusively by the Stripe webhook handler.
type Resume struct {
	gorm.Model
	UserID           uint   `gorm:"index"`
	User             User   `gorm:"constraint:OnDelete:CASCADE"`
	OriginalFilename string `gorm:"size:255"`
	ObjectKey        string `gorm:"size:512"`
	FileSize         int64
	MimeType         string `gorm:"size:100"`
	ParsedText       string `gorm:"type:text"`
	IsPaid           bool   `gorm:"default:false"`
}

// JobDescription is the text blob an analysis runs against.
// Immutable after creation; one per analysis request.
type JobDescription struct {
	gorm.Model
	UserID  uint   `gorm:"index"`
	User    User   `gorm:"constraint:OnDelete:CASCADE"`
	Title   string `gorm:"size:255"`
	Company string `gorm:"size:255"`
	RawText string `gorm:"type:text"`
}

// AnalysisResult is the lifecycle record of a single analysis request.
// The primary key is a random UUID so result IDs cannot be enumerated.
type AnalysisResult struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ResumeID         uint           `gorm:"index"`
	Resume           Resume         `gorm:"constraint:OnDelete:CASCADE"`
	JobDescriptionID uint           `gorm:"index"`
	JobDescription   JobDescription `gorm:"constraint:OnDelete:CASCADE"`
	Status           string         `gorm:"size:20;default:pending"`
	MatchScore       *int
	HireProbability  *float64
	ATSFlags         datatypes.JSON `gorm:"type:jsonb"`
	RewrittenBullets datatypes.JSON `gorm:"type:jsonb"`
	CoverLetter      string         `gorm:"type:text"`
	ErrorMessage     string         `gorm:"type:text"`
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// BeforeCreate assigns the UUID primary key.
func (a *AnalysisResult) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether the analysis has reached a final status.
func (a *AnalysisResult) Terminal() bool {
	return a.Status == AnalysisStatusDone || a.Status == AnalysisStatusFailed
}
