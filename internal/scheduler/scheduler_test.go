package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/i474232898/pollen-sync/internal/syncer"
)

type fakeSyncer struct {
	calls chan syncer.WindowSpec
}

func (f *fakeSyncer) Sync(ctx context.Context, spec syncer.WindowSpec) (*syncer.Report, error) {
	f.calls <- spec
	return &syncer.Report{}, nil
}

func TestStartWithoutIntervalSchedulesNothing(t *testing.T) {
	svc := &fakeSyncer{calls: make(chan syncer.WindowSpec, 1)}
	s := New(syncer.WindowSpec{Days: 3}, 0, time.Minute, svc)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	select {
	case <-svc.calls:
		t.Fatalf("expected no sync without interval")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartRunsImmediately(t *testing.T) {
	svc := &fakeSyncer{calls: make(chan syncer.WindowSpec, 4)}
	s := New(syncer.WindowSpec{Cities: []string{"xian"}, Days: 3}, time.Hour, time.Minute, svc)
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Stop()

	select {
	case spec := <-svc.calls:
		if spec.Days != 3 || len(spec.Cities) != 1 {
			t.Fatalf("unexpected spec %+v", spec)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an immediate sync run")
	}
}
