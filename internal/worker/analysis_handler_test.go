package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"resumatch/internal/ai"
	"resumatch/internal/database"
	"resumatch/internal/errcode"
	"resumatch/internal/tasks"
)

const stubCompletion = `{
	"match_score": 85,
	"hire_probability": 0.7,
	"ats_flags": ["missing keyword: Kubernetes"],
	"rewritten_bullets": ["Shipped the billing service rewrite"],
	"cover_letter": "Dear team, ..."
}`

// stubProvider records calls and returns a canned completion. onGenerate runs
// before returning, so tests can observe mid-flight database state.
type stubProvider struct {
	output     string
	err        error
	calls      int
	onGenerate func()
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(_ context.Context, _ string) (string, error) {
	p.calls++
	if p.onGenerate != nil {
		p.onGenerate()
	}
	return p.output, p.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAnalysis(t *testing.T, db *gorm.DB, status string) *database.AnalysisResult {
	t.Helper()
	user := database.User{Username: "alice", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	resume := database.Resume{
		UserID:           user.ID,
		OriginalFilename: "cv.pdf",
		ObjectKey:        "resumes/1/cv.pdf",
		MimeType:         "application/pdf",
		ParsedText:       "Go engineer with 8 years of backend experience.",
		IsPaid:           true,
	}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	jd := database.JobDescription{
		UserID:  user.ID,
		Title:   "Backend Engineer",
		RawText: "We are hiring a backend engineer with strong Go experience.",
	}
	if err := db.Create(&jd).Error; err != nil {
		t.Fatalf("seed job description: %v", err)
	}
	result := database.AnalysisResult{
		ResumeID:         resume.ID,
		JobDescriptionID: jd.ID,
		Status:           status,
	}
	if err := db.Create(&result).Error; err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
	return &result
}

func analysisTask(t *testing.T, analysisID string) *asynq.Task {
	t.Helper()
	task, err := tasks.NewAnalysisRunTask(analysisID, "corr-test")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessTask_Success(t *testing.T) {
	db := newTestDB(t)
	provider := &stubProvider{output: stubCompletion}
	seeded := seedAnalysis(t, db, database.AnalysisStatusPending)

	// The record must read as processing while the provider call is in flight.
	provider.onGenerate = func() {
		var inFlight database.AnalysisResult
		if err := db.First(&inFlight, "id = ?", seeded.ID).Error; err != nil {
			t.Errorf("query in-flight record: %v", err)
			return
		}
		if inFlight.Status != database.AnalysisStatusProcessing {
			t.Errorf("in-flight status = %q, want processing", inFlight.Status)
		}
	}

	h := NewAnalysisTaskHandler(db, provider, nil, discardLogger())
	if err := h.ProcessTask(context.Background(), analysisTask(t, seeded.ID.String())); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var got database.AnalysisResult
	if err := db.First(&got, "id = ?", seeded.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if got.Status != database.AnalysisStatusDone {
		t.Errorf("status = %q, want done", got.Status)
	}
	if got.MatchScore == nil || *got.MatchScore != 85 {
		t.Errorf("match_score = %v, want 85", got.MatchScore)
	}
	if got.HireProbability == nil || *got.HireProbability != 0.7 {
		t.Errorf("hire_probability = %v, want 0.7", got.HireProbability)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	var flags []string
	if err := json.Unmarshal(got.ATSFlags, &flags); err != nil || len(flags) != 1 {
		t.Errorf("ats_flags = %s (err %v), want 1 entry", got.ATSFlags, err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestProcessTask_NonJSONResponseReturnsDecodeError(t *testing.T) {
	db := newTestDB(t)
	provider := &stubProvider{output: "I am sorry, I cannot produce JSON."}
	seeded := seedAnalysis(t, db, database.AnalysisStatusPending)

	h := NewAnalysisTaskHandler(db, provider, nil, discardLogger())
	err := h.ProcessTask(context.Background(), analysisTask(t, seeded.ID.String()))
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	if _, ok := err.(*ai.DecodeError); !ok {
		t.Fatalf("error type = %T, want *ai.DecodeError", err)
	}

	// Not the final attempt (no retry metadata on the context), so the record
	// stays processing for asynq to retry.
	var got database.AnalysisResult
	if err := db.First(&got, "id = ?", seeded.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if got.Status != database.AnalysisStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty before final attempt", got.ErrorMessage)
	}
}

func TestMarkFailed_DecodeCause(t *testing.T) {
	db := newTestDB(t)
	seeded := seedAnalysis(t, db, database.AnalysisStatusProcessing)

	h := NewAnalysisTaskHandler(db, &stubProvider{}, nil, discardLogger())
	cause := &ai.DecodeError{Provider: "stub", Snippet: "not json"}
	h.markFailed(context.Background(), discardLogger(), seeded, "corr-test", cause)

	var got database.AnalysisResult
	if err := db.First(&got, "id = ?", seeded.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if got.Status != database.AnalysisStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != failureMessageDecode {
		t.Errorf("error_message = %q, want %q", got.ErrorMessage, failureMessageDecode)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if strings.Contains(got.ErrorMessage, "stub") || strings.Contains(got.ErrorMessage, "not json") {
		t.Errorf("diagnostic detail leaked into stored message: %q", got.ErrorMessage)
	}
}

func TestFailureDetails(t *testing.T) {
	code, message := failureDetails(&ai.DecodeError{Provider: "stub", Snippet: "not json"})
	if code != errcode.AnalysisFailed || message != failureMessageDecode {
		t.Errorf("decode cause = (%d, %q)", code, message)
	}

	code, message = failureDetails(fmt.Errorf("provider timeout"))
	if code != errcode.SystemError || message != failureMessageProvider {
		t.Errorf("provider cause = (%d, %q)", code, message)
	}
}

func TestMarkFailed_DoesNotOverwriteTerminal(t *testing.T) {
	db := newTestDB(t)
	seeded := seedAnalysis(t, db, database.AnalysisStatusDone)

	h := NewAnalysisTaskHandler(db, &stubProvider{}, nil, discardLogger())
	h.markFailed(context.Background(), discardLogger(), seeded, "corr-test", fmt.Errorf("provider timeout"))

	var got database.AnalysisResult
	if err := db.First(&got, "id = ?", seeded.ID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if got.Status != database.AnalysisStatusDone {
		t.Errorf("status = %q, terminal record must not change", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty", got.ErrorMessage)
	}
}

func TestProcessTask_TerminalRecordIsNoOp(t *testing.T) {
	db := newTestDB(t)
	provider := &stubProvider{output: stubCompletion}
	seeded := seedAnalysis(t, db, database.AnalysisStatusDone)

	h := NewAnalysisTaskHandler(db, provider, nil, discardLogger())
	if err := h.ProcessTask(context.Background(), analysisTask(t, seeded.ID.String())); err != nil {
		t.Fatalf("ProcessTask on terminal record: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times on terminal record, want 0", provider.calls)
	}
}

func TestProcessTask_MissingRecordIsNoOp(t *testing.T) {
	db := newTestDB(t)
	provider := &stubProvider{output: stubCompletion}

	h := NewAnalysisTaskHandler(db, provider, nil, discardLogger())
	if err := h.ProcessTask(context.Background(), analysisTask(t, "3b4e7d1a-0000-4000-8000-000000000000")); err != nil {
		t.Fatalf("ProcessTask on missing record: %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for missing record, want 0", provider.calls)
	}
}

func TestProcessTask_MalformedPayloadFails(t *testing.T) {
	db := newTestDB(t)
	h := NewAnalysisTaskHandler(db, &stubProvider{}, nil, discardLogger())

	task := asynq.NewTask(tasks.TypeAnalysisRun, []byte("not json"))
	if err := h.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
