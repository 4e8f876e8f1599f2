package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"already transient", fmt.Errorf("%w: x", ErrTransient), ErrTransient},
		{"already quota", fmt.Errorf("%w: x", ErrQuotaExceeded), ErrQuotaExceeded},
		{"already fatal", fmt.Errorf("%w: x", ErrFatal), ErrFatal},
		{"deadline exceeded", context.DeadlineExceeded, ErrTransient},
		{"rate limit message", errors.New("googleapi: Error 429: rate limit exceeded"), ErrQuotaExceeded},
		{"resource exhausted", errors.New("rpc error: RESOURCE EXHAUSTED"), ErrQuotaExceeded},
		{"server error", errors.New("503 service unavailable"), ErrTransient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ErrTransient},
		{"bad api key", errors.New("401 unauthorized: invalid API key"), ErrFatal},
		{"not found model", errors.New("404 model not found"), ErrFatal},
		{"unknown", errors.New("something odd"), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.want == nil {
				if got != nil {
					t.Errorf("classify(nil) = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want class %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{429, ErrQuotaExceeded},
		{500, ErrTransient},
		{502, ErrTransient},
		{503, ErrTransient},
		{400, ErrFatal},
		{401, ErrFatal},
		{404, ErrFatal},
	}
	for _, tt := range tests {
		got := classifyStatus(tt.status, errors.New("x"))
		if !errors.Is(got, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want class %v", tt.status, got, tt.want)
		}
	}
}

func TestAllProvidersFailedError(t *testing.T) {
	err := &AllProvidersFailed{Attempts: []CallRecord{
		{Provider: "a", Model: "m1", Err: fmt.Errorf("%w: down", ErrTransient)},
		{Provider: "b", Model: "m2", Err: fmt.Errorf("%w: 429", ErrQuotaExceeded)},
	}}

	msg := err.Error()
	for _, want := range []string{"all 2 providers failed", "a/m1", "b/m2"} {
		if !containsAny(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("errors.Is with last attempt class = false, want true")
	}
}
