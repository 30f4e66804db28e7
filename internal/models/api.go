package models

// APIStatus is the status field of every JSON response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// SendRequest is the outreach payload accepted by POST /send.
type SendRequest struct {
	To        string `json:"to" validate:"required,min=6,max=20"`
	Body      string `json:"body" validate:"omitempty,max=640"`
	Name      string `json:"name" validate:"omitempty,max=80"`
	City      string `json:"city" validate:"required_without=Body,omitempty,max=80"`
	Specialty string `json:"specialty" validate:"required_without=Body,omitempty,max=80"`
	UserRef   string `json:"userref" validate:"omitempty,max=64"`
}

// SendBatchRequest wraps several outreach payloads.
type SendBatchRequest struct {
	Items []SendRequest `json:"items" validate:"required,min=1,max=500,dive"`
}

// SendResult reports the outcome of one outreach attempt.
type SendResult struct {
	To       string `json:"to"`
	OK       bool   `json:"ok"`
	ThreadID int64  `json:"thread_id,omitempty"`
	Body     string `json:"body,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MORequest is the JSON shape of the simulated inbound webhook.
type MORequest struct {
	MSISDN  string `json:"msisdn"`
	From    string `json:"from"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

// Sender returns the phone number carried by the request.
func (r MORequest) Sender() string {
	if r.MSISDN != "" {
		return r.MSISDN
	}
	return r.From
}

// Body returns the message text carried by the request.
func (r MORequest) Body() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Text
}

// TurnResult is returned by the synchronous inbound endpoint.
type TurnResult struct {
	OK        bool      `json:"ok"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	Reply     string    `json:"reply"`
	State     string    `json:"state"`
	Intent    Intent    `json:"intent,omitempty"`
	CloseType CloseType `json:"close_type,omitempty"`
	DNC       bool      `json:"dnc,omitempty"`
	Ignored   string    `json:"ignored,omitempty"`
}
