package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Error classes. Providers wrap their failures in exactly one of these so
// the router knows whether trying the next provider can help.
var (
	// ErrTransient marks failures that another provider (or a later retry)
	// may not hit: server errors, timeouts, network resets.
	ErrTransient = errors.New("transient provider error")

	// ErrQuotaExceeded marks rate-limit and quota rejections. The request
	// falls through to the next provider.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrFatal marks failures no other provider can fix for this request:
	// the request itself is invalid or the setup is broken. The router
	// stops immediately instead of burning through the fallback chain.
	ErrFatal = errors.New("fatal provider error")
)

// AllProvidersFailed is returned when every provider in the chain was tried
// without success. Attempts records each call in order.
type AllProvidersFailed struct {
	Attempts []CallRecord
}

func (e *AllProvidersFailed) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d providers failed", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s/%s: %v", a.Provider, a.Model, a.Err)
	}
	return b.String()
}

// Unwrap exposes the last attempt's error for errors.Is/As.
func (e *AllProvidersFailed) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// classify wraps err in the matching class sentinel. Already-classified
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrFatal) {
		return err
	}

	// Timeouts of a single call count as transient: the next provider gets
	// its own deadline.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", classForStatus(apiErr.Code), err)
	}

	return fmt.Errorf("%w: %w", classForMessage(err.Error()), err)
}

// classifyStatus maps an HTTP status to a class sentinel. Used by providers
// speaking plain HTTP.
func classifyStatus(status int, err error) error {
	return fmt.Errorf("%w: %w", classForStatus(status), err)
}

func classForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case status >= 500:
		return ErrTransient
	case status >= 400:
		return ErrFatal
	default:
		return ErrTransient
	}
}

func classForMessage(msg string) error {
	switch {
	case containsAny(msg, "rate limit", "quota", "429", "resource exhausted"):
		return ErrQuotaExceeded
	case containsAny(msg, "500", "502", "503", "504", "unavailable",
		"connection reset", "connection refused", "timeout", "temporary", "EOF"):
		return ErrTransient
	case containsAny(msg, "400", "401", "403", "404", "invalid", "api key", "not found"):
		return ErrFatal
	default:
		return ErrTransient
	}
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
