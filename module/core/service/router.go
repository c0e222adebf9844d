package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type fixProcessor interface {
	Process(fix domain.PositionFix) ([]domain.Crossing, error)
}

// CrossingSink receives detected crossings. The settlement engine is one.
type CrossingSink interface {
	Submit(ctx context.Context, c domain.Crossing) error
}

// FixRouter shards fixes by device so each device has a single writer
// while distinct devices are processed in parallel.
type FixRouter struct {
	detector fixProcessor
	sink     CrossingSink
	logger   *slog.Logger
	shards   []chan domain.PositionFix

	mu     sync.RWMutex
	closed bool
}

func NewFixRouter(detector fixProcessor, sink CrossingSink, shards, depth int, logger *slog.Logger) *FixRouter {
	if shards <= 0 {
		shards = 1
	}
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &FixRouter{detector: detector, sink: sink, logger: logger, shards: make([]chan domain.PositionFix, shards)}
	for i := range r.shards {
		r.shards[i] = make(chan domain.PositionFix, depth)
	}
	return r
}

// Route enqueues a fix on its device's shard, blocking while the shard is full.
func (r *FixRouter) Route(ctx context.Context, fix domain.PositionFix) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("fix router closed")
	}
	select {
	case r.shards[r.shardOf(fix.DeviceID)] <- fix:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *FixRouter) shardOf(deviceID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(len(r.shards)))
}

// Run processes shards until ctx is done, then drains what was already routed.
func (r *FixRouter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range r.shards {
		wg.Add(1)
		go func(ch <-chan domain.PositionFix) {
			defer wg.Done()
			for fix := range ch {
				r.handle(ctx, fix)
			}
		}(ch)
	}

	<-ctx.Done()
	r.mu.Lock()
	r.closed = true
	for _, ch := range r.shards {
		close(ch)
	}
	r.mu.Unlock()
	wg.Wait()
	return nil
}

func (r *FixRouter) handle(ctx context.Context, fix domain.PositionFix) {
	crossings, err := r.detector.Process(fix)
	if errors.Is(err, domain.ErrRateLimited) {
		r.logger.Debug("position fix rate limited", "device", fix.DeviceID)
		return
	}
	if err != nil {
		r.logger.Warn("position fix rejected", "device", fix.DeviceID, "error", err)
		return
	}
	for _, c := range crossings {
		// The sink gets a live context so crossings from already routed fixes are not lost on shutdown.
		if err := r.sink.Submit(context.WithoutCancel(ctx), c); err != nil {
			r.logger.Error("crossing not submitted",
				"device", c.DeviceID, "gantry", c.GantryID, "timestamp", c.Timestamp, "error", err)
		}
	}
}
