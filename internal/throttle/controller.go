// Package throttle decides which streamed partial answers become visible
// message edits.
package throttle

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aiox-platform/llmgate/internal/metrics"
)

// Config tunes the edit cadence.
type Config struct {
	MinChars  int           // rune growth that forces an edit
	BaseDelay time.Duration // delay restored on Reset
	MaxDelay  time.Duration // backoff cap
	Growth    float64       // delay multiplier applied after each edit
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		MinChars:  40,
		BaseDelay: 800 * time.Millisecond,
		MaxDelay:  1500 * time.Millisecond,
		Growth:    1.2,
	}
}

// EditFunc pushes text to the user-visible placeholder.
type EditFunc func(ctx context.Context, text string) error

// Controller is single-goroutine state for one conversational turn at a time.
type Controller struct {
	cfg  Config
	edit EditFunc
	now  func() time.Time

	lastContent string
	lastRunes   int
	lastEdit    time.Time
	delay       time.Duration
	edited      bool
	edits       int
}

// NewController creates a controller in its reset state. A nil now uses time.Now.
func NewController(cfg Config, edit EditFunc, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	if cfg.Growth < 1 {
		cfg.Growth = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	c := &Controller{cfg: cfg, edit: edit, now: now}
	c.Reset()
	return c
}

// Reset prepares the controller for a new turn.
func (c *Controller) Reset() {
	c.lastContent = ""
	c.lastRunes = 0
	c.lastEdit = c.now()
	c.delay = c.cfg.BaseDelay
	c.edited = false
	c.edits = 0
}

// ShouldUpdate reports whether candidate is worth an edit now.
func (c *Controller) ShouldUpdate(candidate string) bool {
	if candidate == "" || (c.edited && candidate == c.lastContent) {
		return false
	}
	if utf8.RuneCountInString(candidate)-c.lastRunes >= c.cfg.MinChars {
		return true
	}
	if c.now().Sub(c.lastEdit) > c.delay {
		return true
	}
	return atBoundary(candidate)
}

// Offer edits with candidate when ShouldUpdate holds. It reports whether an
// edit was attempted. A failed edit still advances the backoff so a
// rate-limited frontend sees fewer retries, but the content is not recorded.
func (c *Controller) Offer(ctx context.Context, candidate string) (bool, error) {
	if !c.ShouldUpdate(candidate) {
		return false, nil
	}
	err := c.edit(ctx, candidate)
	c.lastEdit = c.now()
	c.backoff()
	if err != nil {
		metrics.StreamEditsTotal.WithLabelValues("failed").Inc()
		return true, err
	}
	c.record(candidate)
	metrics.StreamEditsTotal.WithLabelValues("throttled").Inc()
	return true, nil
}

// Flush force-edits the final answer regardless of throttle state. If the
// last successful edit already shows final, no call is made.
func (c *Controller) Flush(ctx context.Context, final string) error {
	if c.edited && final == c.lastContent {
		return nil
	}
	if err := c.edit(ctx, final); err != nil {
		metrics.StreamEditsTotal.WithLabelValues("failed").Inc()
		return err
	}
	c.lastEdit = c.now()
	c.record(final)
	metrics.StreamEditsTotal.WithLabelValues("forced").Inc()
	return nil
}

// LastContent returns the text of the last successful edit.
func (c *Controller) LastContent() string { return c.lastContent }

// Delay returns the current backoff delay.
func (c *Controller) Delay() time.Duration { return c.delay }

// Edits returns the number of successful edits since the last Reset.
func (c *Controller) Edits() int { return c.edits }

func (c *Controller) record(text string) {
	c.lastContent = text
	c.lastRunes = utf8.RuneCountInString(text)
	c.edited = true
	c.edits++
}

func (c *Controller) backoff() {
	next := time.Duration(math.Round(float64(c.delay) * c.cfg.Growth))
	if next > c.cfg.MaxDelay {
		next = c.cfg.MaxDelay
	}
	c.delay = next
}

// atBoundary reports whether text ends a paragraph or a sentence.
func atBoundary(text string) bool {
	if strings.HasSuffix(text, "\n\n") {
		return true
	}
	trimmed := strings.TrimRight(text, " \t")
	r, _ := utf8.DecodeLastRuneInString(trimmed)
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}
