package worker

// AnalysisNotifyMessage is the WebSocket message protocol pushed to clients
// through Redis Pub/Sub when an analysis reaches a terminal state.
// Field names must stay in sync with the frontend parser.
type AnalysisNotifyMessage struct {
	Status        string `json:"status"`
	AnalysisID    string `json:"analysis_id"`
	ResumeID      uint   `json:"resume_id"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}
