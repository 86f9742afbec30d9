// Package provider normalises the request, response and streaming shapes of
// the supported LLM backends behind a single Dispatch call.
package provider

import "net/http"

// ProviderID names a configured backend.
type ProviderID string

const (
	DeepSeek  ProviderID = "deepseek"
	OpenAI    ProviderID = "openai"
	Qwen      ProviderID = "qwen"
	Anthropic ProviderID = "anthropic"
)

// Shape names a wire protocol shared by one or more providers.
type Shape string

const (
	ShapeOpenAI    Shape = "openai"
	ShapeAnthropic Shape = "anthropic"
)

// Config is the static record describing one provider.
type Config struct {
	ID          ProviderID
	Shape       Shape
	Model       string
	Temperature float64
	MaxTokens   int
	Endpoint    string
	Stream      bool
	APIKey      string
}

// Message is one entry of the prompt sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is token accounting reported by the provider, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of a dispatch. On TimeoutError, Text holds whatever
// streamed before the deadline.
type Result struct {
	Text  string
	Usage Usage
}

// delta is what an adapter extracts from one streamed frame.
type delta struct {
	text  string
	usage *Usage
	done  bool
}

// adapter is the per-shape set of pure functions the dispatcher drives.
type adapter struct {
	buildRequest  func(cfg Config, msgs []Message) ([]byte, error)
	authorize     func(req *http.Request, cfg Config)
	parseResponse func(body []byte) (string, Usage, error)
	parseDelta    func(payload string) (delta, error)
}

var adapters = map[Shape]adapter{
	ShapeOpenAI:    openAIAdapter,
	ShapeAnthropic: anthropicAdapter,
}
