package provider

import (
	"errors"
	"fmt"
	"time"
)

// ProviderError is an upstream HTTP failure or a malformed payload.
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("provider %s: request failed", e.Provider)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError means the call exceeded its wall-clock budget.
type TimeoutError struct {
	Provider ProviderID
	Budget   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: timed out after %s", e.Provider, e.Budget)
}

// ConfigError means the provider is unknown or lacks a credential.
type ConfigError struct {
	Provider ProviderID
	Msg      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Msg)
}

// Kind returns a short label for err, used in logs and metrics.
func Kind(err error) string {
	var (
		pe *ProviderError
		te *TimeoutError
		ce *ConfigError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ce):
		return "config_error"
	case errors.As(err, &pe):
		return "provider_error"
	default:
		return "unknown"
	}
}
