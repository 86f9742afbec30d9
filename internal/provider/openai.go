package provider

import (
	"encoding/json"
	"errors"
	"net/http"
)

// openAIAdapter serves the chat-completions shape used by OpenAI, DeepSeek
// and the DashScope compatible mode.
var openAIAdapter = adapter{
	buildRequest:  buildOpenAIRequest,
	authorize:     func(req *http.Request, cfg Config) { req.Header.Set("Authorization", "Bearer "+cfg.APIKey) },
	parseResponse: parseOpenAIResponse,
	parseDelta:    parseOpenAIDelta,
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func buildOpenAIRequest(cfg Config, msgs []Message) ([]byte, error) {
	return json.Marshal(openAIRequest{
		Model:       cfg.Model,
		Messages:    msgs,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      cfg.Stream,
	})
}

func parseOpenAIResponse(body []byte) (string, Usage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Usage{}, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", Usage{}, errors.New("response has no message content")
	}
	var usage Usage
	if resp.Usage != nil {
		usage = Usage(*resp.Usage)
	}
	return *resp.Choices[0].Message.Content, usage, nil
}

func parseOpenAIDelta(payload string) (delta, error) {
	var chunk openAIChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return delta{}, err
	}
	var d delta
	if len(chunk.Choices) > 0 {
		d.text = chunk.Choices[0].Delta.Content
	}
	if chunk.Usage != nil {
		u := Usage(*chunk.Usage)
		d.usage = &u
	}
	return d, nil
}
