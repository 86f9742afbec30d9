package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

var anthropicAdapter = adapter{
	buildRequest: buildAnthropicRequest,
	authorize: func(req *http.Request, cfg Config) {
		req.Header.Set("x-api-key", cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	},
	parseResponse: parseAnthropicResponse,
	parseDelta:    parseAnthropicDelta,
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u anthropicUsage) toUsage() Usage {
	return Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildAnthropicRequest lifts system messages into the top-level system field.
func buildAnthropicRequest(cfg Config, msgs []Message) ([]byte, error) {
	var system []string
	turns := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return json.Marshal(anthropicRequest{
		Model:       cfg.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    turns,
		Temperature: cfg.Temperature,
		MaxTokens:   maxTokens,
		Stream:      cfg.Stream,
	})
}

func parseAnthropicResponse(body []byte) (string, Usage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", Usage{}, err
	}
	var b strings.Builder
	found := false
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
			found = true
		}
	}
	if !found {
		return "", Usage{}, errors.New("response has no text content")
	}
	return b.String(), resp.Usage.toUsage(), nil
}

// message_start and message_delta each report half of the usage; the
// dispatcher merges them.
func parseAnthropicDelta(payload string) (delta, error) {
	var ev anthropicEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return delta{}, err
	}
	switch ev.Type {
	case "content_block_delta":
		return delta{text: ev.Delta.Text}, nil
	case "message_start":
		if ev.Message != nil {
			u := ev.Message.Usage.toUsage()
			return delta{usage: &u}, nil
		}
	case "message_delta":
		if ev.Usage != nil {
			u := ev.Usage.toUsage()
			return delta{usage: &u}, nil
		}
	case "message_stop":
		return delta{done: true}, nil
	case "error":
		msg := "stream error"
		if ev.Error != nil {
			msg = fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)
		}
		return delta{}, &streamError{msg: msg}
	}
	return delta{}, nil
}

// streamError is an error frame sent by the provider inside a 200 stream. It
// aborts the stream, unlike a frame that merely fails to parse.
type streamError struct{ msg string }

func (e *streamError) Error() string { return e.msg }
