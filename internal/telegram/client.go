// Package telegram implements messenger.Messenger on the Telegram Bot API and
// defines the webhook update payload.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/aiox-platform/llmgate/internal/messenger"
)

// MaxMessageRunes is Telegram's text length limit.
const MaxMessageRunes = 4096

const notModified = "message is not modified"

// APIError is a non-retryable error reported by the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls the Bot API. All outbound calls share one rate limiter.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

var _ messenger.Messenger = (*Client)(nil)

// NewClient creates a Bot API client allowing perSecond calls per second.
func NewClient(baseURL, token string, perSecond float64, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 25
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage posts text and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (int64, error) {
	var msg sentMessage
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    Clip(text),
	}, &msg)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessage replaces the text of messageID. Editing to identical text is
// reported by Telegram as an error and treated here as success.
func (c *Client) EditMessage(ctx context.Context, chatID string, messageID int64, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       Clip(text),
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, notModified) {
		return nil
	}
	return err
}

// SendTyping shows the typing chat action.
func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// GetMe returns the bot's own username; used as a startup credential check.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	var me struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return "", err
	}
	return me.Username, nil
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &messenger.TransientError{Op: method, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL embeds the token; report only the method.
		return &messenger.TransientError{Op: method, Err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &messenger.TransientError{Op: method, Err: err}
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &messenger.TransientError{Op: method, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return fmt.Errorf("decoding %s response: %w", method, err)
	}

	if !ar.OK {
		apiErr := &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &messenger.TransientError{Op: method, Err: apiErr}
		}
		return apiErr
	}

	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func unwrapURLError(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && u.Unwrap() != nil {
		return u.Unwrap()
	}
	return err
}

// Clip truncates text to MaxMessageRunes runes.
func Clip(text string) string {
	if utf8.RuneCountInString(text) <= MaxMessageRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxMessageRunes-1]) + "…"
}
