package refresh

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeAggregator struct {
	refreshed []string
	failOn    map[string]error
}

func (f *fakeAggregator) Refresh(_ context.Context, skillID string) error {
	f.refreshed = append(f.refreshed, skillID)
	if err, ok := f.failOn[skillID]; ok {
		return err
	}
	return nil
}

func TestDirectEnqueue(t *testing.T) {
	agg := &fakeAggregator{}
	q := NewDirect(agg, zap.NewNop())

	if err := q.Enqueue(context.Background(), "file_operations", "calendar_management"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(agg.refreshed) != 2 {
		t.Fatalf("refreshed = %v", agg.refreshed)
	}
	if agg.refreshed[0] != "file_operations" || agg.refreshed[1] != "calendar_management" {
		t.Errorf("order = %v", agg.refreshed)
	}
}

func TestDirectEnqueueContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	agg := &fakeAggregator{failOn: map[string]error{"file_operations": boom}}
	q := NewDirect(agg, zap.NewNop())

	err := q.Enqueue(context.Background(), "file_operations", "calendar_management")
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error back, got %v", err)
	}
	// The failure must not stop the remaining refreshes.
	if len(agg.refreshed) != 2 {
		t.Errorf("refreshed = %v", agg.refreshed)
	}
}

func TestDirectEnqueueEmpty(t *testing.T) {
	agg := &fakeAggregator{}
	q := NewDirect(agg, zap.NewNop())
	if err := q.Enqueue(context.Background()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(agg.refreshed) != 0 {
		t.Errorf("refreshed = %v", agg.refreshed)
	}
}
