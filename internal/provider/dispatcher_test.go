package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/llmgate/internal/history"
)

func newDispatcher(t *testing.T, handler http.HandlerFunc, cfg Config, timeout time.Duration) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.Endpoint = srv.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	return NewDispatcher(NewRegistry([]Config{cfg}), srv.Client(), timeout)
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, f := range frames {
		fmt.Fprintf(w, "data: %s\n\n", f)
		flusher.Flush()
	}
}

// stall holds the response open until the client goes away. The body must be
// drained first: net/http only notices a disconnect once the request body has
// been read, and until then r.Context() is never cancelled.
func stall(r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	<-r.Context().Done()
}

func openAIFrame(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	return string(b)
}

func TestDispatch_StreamingAggregation(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeFrames(w, openAIFrame("Hello"), openAIFrame(" world"), openAIFrame("!"), "[DONE]")
	}, Config{ID: DeepSeek, Shape: ShapeOpenAI, Model: "deepseek-chat", Temperature: 0.7, MaxTokens: 256, Stream: true}, 5*time.Second)

	var deltas []string
	res, err := d.Dispatch(context.Background(), DeepSeek, "be brief",
		[]history.Turn{{Role: history.RoleUser, Content: "hi"}, {Role: history.RoleAssistant, Content: "hello"}},
		"say hello", func(s string) { deltas = append(deltas, s) })

	require.NoError(t, err)
	assert.Equal(t, "Hello world!", res.Text)
	assert.Equal(t, []string{"Hello", "Hello world", "Hello world!"}, deltas)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "deepseek-chat", gotBody["model"])
	assert.Equal(t, true, gotBody["stream"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "say hello", msgs[3].(map[string]any)["content"])
}

func TestDispatch_FramesSplitAcrossWrites(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		frame := "data: " + openAIFrame("Hello") + "\n\n"
		io.WriteString(w, frame[:10])
		flusher.Flush()
		io.WriteString(w, frame[10:])
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}, Config{ID: OpenAI, Shape: ShapeOpenAI, Stream: true}, 5*time.Second)

	res, err := d.Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
}

func TestDispatch_MalformedFrameSkipped(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, openAIFrame("A"), "{not json", openAIFrame("B"), "[DONE]")
	}, Config{ID: OpenAI, Shape: ShapeOpenAI, Stream: true}, 5*time.Second)

	res, err := d.Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "AB", res.Text)
}

func TestDispatch_StreamEndsWithoutSentinel(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, openAIFrame("partial"))
		io.WriteString(w, "data: "+openAIFrame(" tail"))
	}, Config{ID: OpenAI, Shape: ShapeOpenAI, Stream: true}, 5*time.Second)

	res, err := d.Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "partial tail", res.Text)
}

func TestDispatch_EmptyStreamIsProviderError(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, "[DONE]")
	}, Config{ID: OpenAI, Shape: ShapeOpenAI, Stream: true}, 5*time.Second)

	_, err := d.Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "empty completion")
}

func TestDispatch_TimeoutIsolation(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		stall(r)
	}, Config{ID: DeepSeek, Shape: ShapeOpenAI, Stream: true}, 50*time.Millisecond)

	_, err := d.Dispatch(context.Background(), DeepSeek, "", nil, "hi", nil)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.Budget)
	var pe *ProviderError
	assert.False(t, errors.As(err, &pe), "timeout must not be a ProviderError")
	assert.Equal(t, "timeout", Kind(err))
}

func TestDispatch_TimeoutMidStreamKeepsPartial(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, openAIFrame("Hel"), openAIFrame("lo"))
		stall(r)
	}, Config{ID: DeepSeek, Shape: ShapeOpenAI, Stream: true}, 100*time.Millisecond)

	var last string
	res, err := d.Dispatch(context.Background(), DeepSeek, "", nil, "hi", func(s string) { last = s })

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, "Hello", last)
}

func TestDispatch_Non2xx(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}, Config{ID: OpenAI, Shape: ShapeOpenAI, Stream: true}, time.Second)

	_, err := d.Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Contains(t, pe.Body, "bad key")
}

func TestDispatch_BatchResponse(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Batch answer"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}, Config{ID: Qwen, Shape: ShapeOpenAI, Stream: false}, time.Second)

	calls := 0
	res, err := d.Dispatch(context.Background(), Qwen, "", nil, "hi", func(s string) {
		calls++
		assert.Equal(t, "Batch answer", s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Batch answer", res.Text)
	assert.Equal(t, Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}, res.Usage)
	assert.Equal(t, 1, calls)
}

func TestDispatch_BatchMissingContent(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}, Config{ID: Qwen, Shape: ShapeOpenAI, Stream: false}, time.Second)

	_, err := d.Dispatch(context.Background(), Qwen, "", nil, "hi", nil)
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestDispatch_AnthropicStream(t *testing.T) {
	var gotBody map[string]any
	var headers http.Header
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		writeFrames(w,
			`{"type":"message_start","message":{"usage":{"input_tokens":12,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
			`{"type":"message_stop"}`,
		)
	}, Config{ID: Anthropic, Shape: ShapeAnthropic, Model: "claude", MaxTokens: 100, Stream: true}, 5*time.Second)

	var deltas []string
	res, err := d.Dispatch(context.Background(), Anthropic, "sys prompt", nil, "hi", func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)

	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, []string{"Hello", "Hello world"}, deltas)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, res.Usage)

	assert.Equal(t, "test-key", headers.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, headers.Get("anthropic-version"))
	assert.Empty(t, headers.Get("Authorization"))
	assert.Equal(t, "sys prompt", gotBody["system"])
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 1, "system prompt is not sent as a message")
}

func TestDispatch_AnthropicErrorFrame(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}`,
			`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
		)
	}, Config{ID: Anthropic, Shape: ShapeAnthropic, Stream: true}, 5*time.Second)

	res, err := d.Dispatch(context.Background(), Anthropic, "", nil, "hi", nil)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "overloaded_error")
	assert.Equal(t, "Hi", res.Text)
}

func TestDispatch_AnthropicBatch(t *testing.T) {
	d := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[{"type":"text","text":"Done."}],"usage":{"input_tokens":5,"output_tokens":2}}`)
	}, Config{ID: Anthropic, Shape: ShapeAnthropic, Stream: false}, time.Second)

	res, err := d.Dispatch(context.Background(), Anthropic, "", nil, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Done.", res.Text)
	assert.Equal(t, 7, res.Usage.TotalTokens)
}

func TestDispatch_ConfigErrors(t *testing.T) {
	reg := NewRegistry([]Config{
		{ID: OpenAI, Shape: ShapeOpenAI, Endpoint: "http://unused"},
		{ID: "weird", Shape: "grpc", APIKey: "k"},
	})
	d := NewDispatcher(reg, nil, time.Second)

	for _, id := range []ProviderID{"nope", OpenAI, "weird"} {
		t.Run(string(id), func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), id, "", nil, "hi", nil)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, id, ce.Provider)
			assert.Equal(t, "config_error", Kind(err))
		})
	}
}

func TestDispatch_ConnectionRefusedIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	reg := NewRegistry([]Config{{ID: OpenAI, Shape: ShapeOpenAI, Endpoint: url, APIKey: "k", Stream: true}})
	_, err := NewDispatcher(reg, nil, time.Second).Dispatch(context.Background(), OpenAI, "", nil, "hi", nil)

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("sys", []history.Turn{{Role: history.RoleUser, Content: "a"}}, "b")
	assert.Equal(t, []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
	}, msgs)

	assert.Len(t, BuildMessages("", nil, "b"), 1)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry([]Config{{ID: Qwen}, {ID: Anthropic}, {ID: DeepSeek}})
	ids := make([]ProviderID, 0, 3)
	for _, c := range reg.List() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []ProviderID{Anthropic, DeepSeek, Qwen}, ids)
	assert.True(t, reg.Has(Qwen))
	assert.False(t, reg.Has(OpenAI))
}
