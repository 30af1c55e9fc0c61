package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants keep queue producers and consumers in sync.
const (
	TypeAnalysisRun = "analysis:run"
)

// Analysis retry policy: the execute step is retried twice with a fixed
// delay before the record is left failed.
const (
	AnalysisMaxRetry   = 2
	AnalysisRetryDelay = 30 * time.Second
)

// AnalysisRunPayload carries the minimum needed to run one analysis.
type AnalysisRunPayload struct {
	AnalysisID    string `json:"analysis_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewAnalysisRunTask builds the background task for a freshly submitted
// analysis. The retry budget rides on the task options so the handler only
// ever sees a single logical invocation per attempt.
func NewAnalysisRunTask(analysisID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AnalysisRunPayload{
		AnalysisID:    analysisID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAnalysisRun, payload, asynq.MaxRetry(AnalysisMaxRetry)), nil
}
