package keyrotor

// GenerateRequest is a text-generation request routed across providers.
type GenerateRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateResponse is the routed result.
type GenerateResponse struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason"`
	Usage        Usage       `json:"usage"`
	Model        string      `json:"model"`
	Routing      RoutingInfo `json:"routing"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// RoutingInfo describes which provider and key served the request.
type RoutingInfo struct {
	Provider  string `json:"provider"`
	Key       string `json:"key"` // masked
	Model     string `json:"model"`
	Attempts  int    `json:"attempts"`
	Fallbacks int    `json:"fallbacks"`
}

// UserPrompt builds a single-message request.
func UserPrompt(prompt string) GenerateRequest {
	return GenerateRequest{Messages: []Message{{Role: "user", Content: prompt}}}
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
