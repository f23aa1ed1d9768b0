package types

// AdmissionRequest is the unit of work submitted for admission. Body is kept
// structured so a deferred request survives a JSON round-trip through the
// queue unchanged.
type AdmissionRequest struct {
	Method  string                 `json:"method" mapstructure:"method"`
	Route   string                 `json:"route" mapstructure:"route"`
	Headers map[string]string      `json:"headers" mapstructure:"headers"`
	Body    map[string]interface{} `json:"body" mapstructure:"body"`
}

type Decision string

const (
	DecisionAdmitted Decision = "admitted"
	DecisionQueued   Decision = "queued"
	DecisionRejected Decision = "rejected"
)

// AdmissionResult is the coordinator's outcome for a single request.
// Exactly one of Response (admitted) or QueueID (queued) is populated;
// Reason is set only for rejections.
type AdmissionResult struct {
	Decision Decision
	QueueID  string
	Reason   string
	Response *BackendResponse
}

// BackendResponse is what the protected backend returned for an admitted
// request.
type BackendResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// StatusSnapshot is the read-only introspection surface.
type StatusSnapshot struct {
	Limiter LimiterStatus `json:"limiter"`
	Queue   QueueStatus   `json:"queue"`
	Breaker BreakerStatus `json:"breaker"`
}

type LimiterStatus struct {
	Capacity      float64 `json:"capacity"`
	FillRate      float64 `json:"fill_rate"`
	CurrentTokens float64 `json:"current_tokens"`
}

type QueueStatus struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

type BreakerStatus struct {
	State            string `json:"state"`
	FailureThreshold uint32 `json:"failure_threshold"`
	ResetTimeout     string `json:"reset_timeout"`
	SuccessThreshold uint32 `json:"success_threshold"`
}
