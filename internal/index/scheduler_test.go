package index

import (
	"context"
	"testing"
)

func TestNewSchedulerInvalidSpec(t *testing.T) {
	if _, err := NewScheduler("not a cron spec", func(context.Context) {}, nil); err == nil {
		t.Error("NewScheduler() error = nil, want error for invalid spec")
	}
}

func TestNewSchedulerValidSpec(t *testing.T) {
	s, err := NewScheduler("0 4 * * *", func(context.Context) {}, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.Start()
	s.Stop()
}
