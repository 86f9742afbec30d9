package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aiox-platform/llmgate/internal/history"
	"github.com/aiox-platform/llmgate/internal/metrics"
	"github.com/aiox-platform/llmgate/internal/sse"
)

const (
	maxErrorBody    = 512
	maxResponseBody = 4 << 20
	readChunk       = 4096
)

// DeltaFunc receives the full answer accumulated so far.
type DeltaFunc func(fullSoFar string)

// Dispatcher issues LLM calls under a fixed wall-clock budget.
type Dispatcher struct {
	registry *Registry
	client   *http.Client
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. client must not set its own Timeout
// shorter than timeout; a nil client uses a fresh http.Client.
func NewDispatcher(registry *Registry, client *http.Client, timeout time.Duration) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{registry: registry, client: client, timeout: timeout}
}

// Registry returns the provider registry used by the dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// BuildMessages assembles [system, ...history, user].
func BuildMessages(systemPrompt string, turns []history.Turn, userText string) []Message {
	msgs := make([]Message, 0, len(turns)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	for _, t := range turns {
		msgs = append(msgs, Message{Role: string(t.Role), Content: t.Content})
	}
	return append(msgs, Message{Role: "user", Content: userText})
}

// Dispatch sends the conversation to provider id and returns the final answer.
// For streaming providers onDelta is called synchronously after every parsed
// fragment with the full text so far; for batch providers it is called once
// with the complete answer. Errors are *ConfigError, *ProviderError or
// *TimeoutError. On *TimeoutError the returned Result holds the partial text.
func (d *Dispatcher) Dispatch(ctx context.Context, id ProviderID, systemPrompt string, turns []history.Turn, userText string, onDelta DeltaFunc) (Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, id, systemPrompt, turns, userText, onDelta)
	metrics.DispatchTotal.WithLabelValues(string(id), Kind(err)).Inc()
	metrics.DispatchDuration.WithLabelValues(string(id)).Observe(time.Since(start).Seconds())
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, id ProviderID, systemPrompt string, turns []history.Turn, userText string, onDelta DeltaFunc) (Result, error) {
	cfg, err := d.registry.Lookup(id)
	if err != nil {
		return Result{}, err
	}
	ad := adapters[cfg.Shape]
	if onDelta == nil {
		onDelta = func(string) {}
	}

	body, err := ad.buildRequest(cfg, BuildMessages(systemPrompt, turns, userText))
	if err != nil {
		return Result{}, &ProviderError{Provider: id, Err: fmt.Errorf("building request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &ProviderError{Provider: id, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	ad.authorize(req, cfg)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, d.classify(ctx, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &ProviderError{Provider: id, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if !cfg.Stream {
		return d.readBatch(ctx, id, ad, resp.Body, onDelta)
	}
	return d.readStream(ctx, id, ad, resp.Body, onDelta)
}

func (d *Dispatcher) readBatch(ctx context.Context, id ProviderID, ad adapter, body io.Reader, onDelta DeltaFunc) (Result, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil {
		return Result{}, d.classify(ctx, id, err)
	}
	text, usage, err := ad.parseResponse(raw)
	if err != nil {
		return Result{}, &ProviderError{Provider: id, Err: fmt.Errorf("malformed response: %w", err)}
	}
	onDelta(text)
	return Result{Text: text, Usage: usage}, nil
}

func (d *Dispatcher) readStream(ctx context.Context, id ProviderID, ad adapter, body io.Reader, onDelta DeltaFunc) (Result, error) {
	var (
		dec    sse.LineDecoder
		answer strings.Builder
		usage  Usage
		buf    = make([]byte, readChunk)
		done   bool
	)

	// handle returns a non-nil error only for frames that must abort the stream.
	handle := func(line string) error {
		payload, ok := sse.DataPayload(line)
		if !ok || payload == "" {
			return nil
		}
		if sse.Done(payload) {
			done = true
			return nil
		}
		dl, err := ad.parseDelta(payload)
		if err != nil {
			var se *streamError
			if errors.As(err, &se) {
				return &ProviderError{Provider: id, Err: se}
			}
			slog.Debug("provider: skipping malformed frame", "provider", id, "error", err)
			return nil
		}
		if dl.usage != nil {
			mergeUsage(&usage, *dl.usage)
		}
		if dl.done {
			done = true
		}
		if dl.text != "" {
			answer.WriteString(dl.text)
			onDelta(answer.String())
		}
		return nil
	}

	for !done {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range dec.Write(buf[:n]) {
				if err := handle(line); err != nil {
					return Result{Text: answer.String(), Usage: usage}, err
				}
				if done {
					break
				}
			}
		}
		if readErr == io.EOF {
			if !done {
				if err := handle(dec.Flush()); err != nil {
					return Result{Text: answer.String(), Usage: usage}, err
				}
			}
			break
		}
		if readErr != nil {
			return Result{Text: answer.String(), Usage: usage}, d.classify(ctx, id, readErr)
		}
	}

	if answer.Len() == 0 {
		return Result{Usage: usage}, &ProviderError{Provider: id, Err: errors.New("empty completion")}
	}
	return Result{Text: answer.String(), Usage: usage}, nil
}

// classify maps a transport error to *TimeoutError when the dispatch deadline
// fired, and to *ProviderError otherwise.
func (d *Dispatcher) classify(ctx context.Context, id ProviderID, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: id, Budget: d.timeout}
	}
	return &ProviderError{Provider: id, Err: err}
}

func mergeUsage(acc *Usage, u Usage) {
	if u.PromptTokens > 0 {
		acc.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		acc.CompletionTokens = u.CompletionTokens
	}
	acc.TotalTokens = acc.PromptTokens + acc.CompletionTokens
	if u.TotalTokens > acc.TotalTokens {
		acc.TotalTokens = u.TotalTokens
	}
}
