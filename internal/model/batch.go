package model

// BatchStatus is the normalized lifecycle state of a submitted batch.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusExpired    BatchStatus = "expired"
	BatchStatusCancelled  BatchStatus = "cancelled"
	BatchStatusUnknown    BatchStatus = "unknown"
)

// IsTerminal reports whether the batch will not change state again.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	}
	return false
}

// IsFailure reports whether the batch ended without results.
func (s BatchStatus) IsFailure() bool {
	return s.IsTerminal() && s != BatchStatusCompleted
}

// Batch is one submission to the inference service.
type Batch struct {
	ID           string      `json:"id"`
	Status       BatchStatus `json:"status"`
	OutputFileID string      `json:"output_file_id,omitempty"`
	ErrorFileID  string      `json:"error_file_id,omitempty"`
	Total        int         `json:"total,omitempty"`
	Completed    int         `json:"completed,omitempty"`
	Failed       int         `json:"failed,omitempty"`
}

// Message is one chat message of a request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody is the chat-completions body of a batch request.
type RequestBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p"`
	N           int       `json:"n,omitempty"`
}

// BatchRequest is one line of a batch input file.
type BatchRequest struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// SystemPrompt returns the content of the first system message.
func (r BatchRequest) SystemPrompt() string {
	for _, m := range r.Body.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ResultBody is the chat-completions response body.
type ResultBody struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// ResultResponse wraps the response of one batch request.
type ResultResponse struct {
	StatusCode int        `json:"status_code"`
	RequestID  string     `json:"request_id,omitempty"`
	Body       ResultBody `json:"body"`
}

// ResultError is the per-request error of a batch output line.
type ResultError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResultRecord is one line of a batch output file.
type ResultRecord struct {
	ID       string          `json:"id,omitempty"`
	CustomID string          `json:"custom_id"`
	Response *ResultResponse `json:"response"`
	Error    *ResultError    `json:"error,omitempty"`
}

// Content returns the first choice's message content, or "".
func (r ResultRecord) Content() string {
	if r.Response == nil || len(r.Response.Body.Choices) == 0 {
		return ""
	}
	return r.Response.Body.Choices[0].Message.Content
}
