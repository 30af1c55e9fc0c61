package errcode

// Error code convention for client-facing notification payloads:
// - 0: no error
// - 4xxx: recoverable/business errors (the flow can continue)
// - 5xxx: system errors (the flow was aborted)
const (
	OK             = 0
	AnalysisFailed = 4001
	SystemError    = 5000
)
