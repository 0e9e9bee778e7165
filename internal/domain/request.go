package domain

// Attachment is opaque caller-supplied context passed through to adapters
// that support it (text extraction happens upstream of this service).
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}

// RequestSpec is one inbound call, provider-agnostic. Discarded when the
// call completes.
type RequestSpec struct {
	Prompt      string       `json:"prompt"`
	MaxTokens   int          `json:"max_tokens"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Providers optionally overrides the fan-out set. Empty means "all
	// callable providers from the current snapshot".
	Providers []string `json:"providers,omitempty"`

	// Model optionally pins the model on the single-provider stream path.
	Model string `json:"model,omitempty"`
}

// CompletionRequest is the canonical request an adapter translates into its
// upstream wire format. ModelMaxTokens carries the store-configured output
// cap for the resolved model; adapters clamp against it and against their
// own hard ceiling.
type CompletionRequest struct {
	Prompt         string
	Attachments    []Attachment
	Model          string
	MaxTokens      int
	ModelMaxTokens int
	Temperature    float64
}

// Completion is the canonical non-streaming adapter result.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ProviderResult is one fan-out participant's outcome. Exactly one of
// Content/Error is set.
type ProviderResult struct {
	Provider  string       `json:"provider"`
	Model     string       `json:"model"`
	Content   *string      `json:"content"`
	Error     *ErrorRecord `json:"error"`
	LatencyMs int64        `json:"latency_ms"`
	Status    ResultStatus `json:"status"`
}
