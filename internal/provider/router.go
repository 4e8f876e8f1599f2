package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Entry configures one provider in the fallback chain.
type Entry struct {
	Provider Provider
	// Timeout bounds a single attempt against this provider. An expired
	// attempt counts as transient and the chain moves on.
	Timeout time.Duration
	// RPM caps outbound requests per minute to this provider. Zero means
	// unlimited.
	RPM int
}

type routed struct {
	provider Provider
	limiter  *rate.Limiter
	timeout  time.Duration
}

// Router tries providers in configured order until one succeeds. Transient
// and quota failures fall through to the next provider; a fatal failure
// stops the chain immediately since retrying elsewhere cannot fix the
// request.
type Router struct {
	entries []routed
	logger  *slog.Logger
}

// NewRouter creates a Router over an ordered provider chain.
func NewRouter(entries []Entry, logger *slog.Logger) (*Router, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("router: at least one provider is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Router{logger: logger}
	for _, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("router: nil provider in chain")
		}
		limiter := rate.NewLimiter(rate.Inf, 1)
		if e.RPM > 0 {
			limiter = rate.NewLimiter(rate.Limit(float64(e.RPM)/60.0), e.RPM)
		}
		r.entries = append(r.entries, routed{
			provider: e.Provider,
			limiter:  limiter,
			timeout:  e.Timeout,
		})
	}
	return r, nil
}

// Complete routes the request through the provider chain. The returned
// records document every attempt in order, the successful one included.
// When every provider fails the error is an *AllProvidersFailed carrying
// the same records.
func (r *Router) Complete(ctx context.Context, req Request) (*Result, []CallRecord, error) {
	var records []CallRecord

	for _, entry := range r.entries {
		result, record := r.attempt(ctx, entry, req)
		records = append(records, record)

		if record.Err == nil {
			return result, records, nil
		}

		if errors.Is(record.Err, ErrFatal) {
			r.logger.Error("provider failed fatally, not trying others",
				"provider", entry.provider.Name(),
				"error", record.Err)
			return nil, records, record.Err
		}
		if ctx.Err() != nil {
			return nil, records, ctx.Err()
		}

		r.logger.Warn("provider failed, trying next",
			"provider", entry.provider.Name(),
			"error", record.Err)
	}

	return nil, records, &AllProvidersFailed{Attempts: records}
}

func (r *Router) attempt(ctx context.Context, entry routed, req Request) (*Result, CallRecord) {
	record := CallRecord{
		Provider:  entry.provider.Name(),
		Model:     entry.provider.Model(),
		StartedAt: time.Now(),
	}

	attemptCtx := ctx
	if entry.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, entry.timeout)
		defer cancel()
	}

	if err := entry.limiter.Wait(attemptCtx); err != nil {
		record.Duration = time.Since(record.StartedAt)
		record.Err = fmt.Errorf("%w: waiting for provider rate limit: %w", ErrTransient, err)
		return nil, record
	}

	result, err := entry.provider.Complete(attemptCtx, req)
	record.Duration = time.Since(record.StartedAt)
	if err != nil {
		record.Err = classify(err)
		return nil, record
	}

	r.logger.Debug("completion succeeded",
		"provider", record.Provider,
		"model", record.Model,
		"duration", record.Duration,
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens)
	return result, record
}
