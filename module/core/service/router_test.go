package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type mockDetector struct {
	processFn func(fix domain.PositionFix) ([]domain.Crossing, error)
}

func (m *mockDetector) Process(fix domain.PositionFix) ([]domain.Crossing, error) {
	return m.processFn(fix)
}

type mockSink struct {
	mu       sync.Mutex
	submitFn func(ctx context.Context, c domain.Crossing) error
	calls    []domain.Crossing
}

func (m *mockSink) Submit(ctx context.Context, c domain.Crossing) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	if m.submitFn != nil {
		return m.submitFn(ctx, c)
	}
	return nil
}

func TestFixRouter_PreservesPerDeviceOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string][]time.Time)
	)
	det := &mockDetector{processFn: func(fix domain.PositionFix) ([]domain.Crossing, error) {
		mu.Lock()
		seen[fix.DeviceID] = append(seen[fix.DeviceID], fix.Timestamp)
		mu.Unlock()
		return nil, nil
	}}
	r := NewFixRouter(det, &mockSink{}, 4, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	t0 := time.Unix(1715003456, 0)
	devices := []string{"D1", "D2", "D3", "D4", "D5"}
	for i := 0; i < 50; i++ {
		for _, id := range devices {
			if err := r.Route(context.Background(), fixAt(id, t0.Add(time.Duration(i)*time.Second), 0, 0)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range devices {
		ts := seen[id]
		if len(ts) != 50 {
			t.Fatalf("device %s: expected 50 fixes processed, got %d", id, len(ts))
		}
		for i := 1; i < len(ts); i++ {
			if ts[i].Before(ts[i-1]) {
				t.Fatalf("device %s: fix %d processed out of order", id, i)
			}
		}
	}
}

func TestFixRouter_SubmitsCrossings(t *testing.T) {
	det := &mockDetector{processFn: func(fix domain.PositionFix) ([]domain.Crossing, error) {
		return []domain.Crossing{
			{DeviceID: fix.DeviceID, GantryID: "G1", Timestamp: fix.Timestamp},
			{DeviceID: fix.DeviceID, GantryID: "G2", Timestamp: fix.Timestamp},
		}, nil
	}}
	sink := &mockSink{}
	r := NewFixRouter(det, sink, 2, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := r.Route(context.Background(), fixAt("D1", time.Unix(1715003456, 0), 0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	<-done

	if len(sink.calls) != 2 {
		t.Fatalf("expected 2 submitted crossings, got %d", len(sink.calls))
	}
}

func TestFixRouter_DetectorErrorSkipsFix(t *testing.T) {
	det := &mockDetector{processFn: func(fix domain.PositionFix) ([]domain.Crossing, error) {
		return nil, domain.ErrOutOfOrder
	}}
	sink := &mockSink{}
	r := NewFixRouter(det, sink, 1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	_ = r.Route(context.Background(), fixAt("D1", time.Unix(1715003456, 0), 0, 0))
	cancel()
	<-done

	if len(sink.calls) != 0 {
		t.Fatalf("expected no crossings, got %d", len(sink.calls))
	}
}

func TestFixRouter_SinkGetsLiveContextDuringDrain(t *testing.T) {
	det := &mockDetector{processFn: func(fix domain.PositionFix) ([]domain.Crossing, error) {
		return []domain.Crossing{{DeviceID: fix.DeviceID, GantryID: "G1"}}, nil
	}}
	var ctxErr error
	sink := &mockSink{submitFn: func(ctx context.Context, _ domain.Crossing) error {
		ctxErr = ctx.Err()
		return nil
	}}
	r := NewFixRouter(det, sink, 1, 4, nil)

	// route before Run starts so the fix is drained after cancel
	if err := r.Route(context.Background(), fixAt("D1", time.Unix(1715003456, 0), 0, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("expected 1 crossing, got %d", len(sink.calls))
	}
	if ctxErr != nil {
		t.Errorf("expected live context, got %v", ctxErr)
	}
}

func TestFixRouter_RouteAfterClose(t *testing.T) {
	r := NewFixRouter(&mockDetector{}, &mockSink{}, 1, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)

	if err := r.Route(context.Background(), fixAt("D1", time.Unix(1715003456, 0), 0, 0)); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestFixRouter_RouteHonorsContext(t *testing.T) {
	r := NewFixRouter(&mockDetector{}, &mockSink{}, 1, 1, nil)

	// no Run: the single slot fills and the next Route blocks
	_ = r.Route(context.Background(), fixAt("D1", time.Unix(1, 0), 0, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Route(ctx, fixAt("D1", time.Unix(2, 0), 0, 0))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
