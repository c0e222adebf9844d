package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/metrics"
)

const (
	DefaultCrossingCooldown = 120 * time.Second
	DefaultFixesPerMinute   = 120
)

type DetectorConfig struct {
	Cooldown time.Duration
	// FixesPerMinute caps fixes accepted per device; a negative value disables the cap.
	FixesPerMinute int
}

type gantryLookup interface {
	Lookup(lat, lon float64) []domain.Gantry
}

// deviceSlot is the detector state of one device. Only that device's fixes touch it.
type deviceSlot struct {
	mu      sync.Mutex
	lastTS  time.Time
	seen    bool
	touched time.Time
	evicted bool
	limiter *rate.Limiter
	states  map[string]*domain.GeofenceState
}

// CrossingDetector turns a per-device ordered stream of fixes into crossing events.
type CrossingDetector struct {
	gantries gantryLookup
	cooldown time.Duration
	perMin   int
	logger   *slog.Logger
	now      func() time.Time

	devices  sync.Map // device id -> *deviceSlot
	rejected atomic.Int64
	dropped  atomic.Int64
	limited  atomic.Int64
}

func NewCrossingDetector(gantries gantryLookup, cfg DetectorConfig, logger *slog.Logger) *CrossingDetector {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCrossingCooldown
	}
	if cfg.FixesPerMinute == 0 {
		cfg.FixesPerMinute = DefaultFixesPerMinute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossingDetector{
		gantries: gantries,
		cooldown: cfg.Cooldown,
		perMin:   cfg.FixesPerMinute,
		logger:   logger,
		now:      time.Now,
	}
}

// Process evaluates one fix and returns the crossings it causes, one per gantry at most.
func (d *CrossingDetector) Process(fix domain.PositionFix) ([]domain.Crossing, error) {
	if err := ValidateFix(fix); err != nil {
		d.rejected.Add(1)
		metrics.FixesRejected.WithLabelValues("malformed").Inc()
		return nil, err
	}

	slot := d.lock(fix.DeviceID)
	defer slot.mu.Unlock()

	now := d.now()
	slot.touched = now
	if slot.limiter != nil && !slot.limiter.AllowN(now, 1) {
		d.limited.Add(1)
		metrics.FixesRejected.WithLabelValues("rate_limited").Inc()
		return nil, fmt.Errorf("device %s: more than %d fixes per minute: %w", fix.DeviceID, d.perMin, domain.ErrRateLimited)
	}

	if slot.seen && fix.Timestamp.Before(slot.lastTS) {
		d.dropped.Add(1)
		metrics.FixesRejected.WithLabelValues("out_of_order").Inc()
		return nil, fmt.Errorf("device %s: fix at %s before %s: %w",
			fix.DeviceID, fix.Timestamp.Format(time.RFC3339), slot.lastTS.Format(time.RFC3339), domain.ErrOutOfOrder)
	}
	slot.seen = true
	slot.lastTS = fix.Timestamp
	metrics.FixesProcessed.Inc()

	hits := d.gantries.Lookup(fix.Lat, fix.Lon)
	inside := make(map[string]struct{}, len(hits))

	var crossings []domain.Crossing
	for _, g := range hits {
		inside[g.ID] = struct{}{}
		st, ok := slot.states[g.ID]
		if !ok {
			st = &domain.GeofenceState{}
			slot.states[g.ID] = st
		}
		if st.Inside {
			continue
		}
		st.Inside = true
		st.ChangedAt = fix.Timestamp

		if st.Crossings > 0 && fix.Timestamp.Sub(st.LastCrossing) < d.cooldown {
			d.logger.Debug("crossing suppressed by cooldown",
				"device", fix.DeviceID, "gantry", g.ID, "since_last", fix.Timestamp.Sub(st.LastCrossing))
			continue
		}
		st.LastCrossing = fix.Timestamp
		st.Crossings = 1

		crossings = append(crossings, domain.Crossing{
			DeviceID:  fix.DeviceID,
			GantryID:  g.ID,
			Price:     g.Price,
			Timestamp: fix.Timestamp,
			Lat:       fix.Lat,
			Lon:       fix.Lon,
		})
		metrics.CrossingsDetected.Inc()
	}

	for id, st := range slot.states {
		if _, ok := inside[id]; ok || !st.Inside {
			continue
		}
		st.Inside = false
		st.ChangedAt = fix.Timestamp
	}

	return crossings, nil
}

// lock returns the device's slot, locked. A slot evicted between load and lock is skipped.
func (d *CrossingDetector) lock(deviceID string) *deviceSlot {
	for {
		slot := d.slot(deviceID)
		slot.mu.Lock()
		if !slot.evicted {
			return slot
		}
		slot.mu.Unlock()
	}
}

func (d *CrossingDetector) slot(deviceID string) *deviceSlot {
	if s, ok := d.devices.Load(deviceID); ok {
		return s.(*deviceSlot)
	}
	fresh := &deviceSlot{states: make(map[string]*domain.GeofenceState)}
	if d.perMin > 0 {
		fresh.limiter = rate.NewLimiter(rate.Limit(float64(d.perMin)/60), d.perMin)
	}
	s, loaded := d.devices.LoadOrStore(deviceID, fresh)
	if !loaded {
		metrics.TrackedDevices.Inc()
	}
	return s.(*deviceSlot)
}

// idleAfter is how long a device must be silent before its slot may go.
// The slot then holds nothing a fresh one would not: cooldowns have expired
// and the rate limiter has refilled.
func (d *CrossingDetector) idleAfter() time.Duration {
	return max(d.cooldown, time.Minute)
}

// Sweep drops the slots of devices that are outside every gantry and have sent
// nothing for idleAfter. It returns the number dropped.
func (d *CrossingDetector) Sweep() int {
	now := d.now()
	idle := d.idleAfter()
	n := 0
	d.devices.Range(func(key, value any) bool {
		slot := value.(*deviceSlot)
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if now.Sub(slot.touched) < idle {
			return true
		}
		for _, st := range slot.states {
			if st.Inside {
				return true
			}
		}
		slot.evicted = true
		d.devices.Delete(key)
		metrics.TrackedDevices.Dec()
		n++
		return true
	})
	return n
}

// RunSweeper sweeps idle slots every interval until ctx is done.
// A non-positive interval sweeps once per idle period.
func (d *CrossingDetector) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.idleAfter()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := d.Sweep(); n > 0 {
				d.logger.Debug("idle devices evicted", "count", n)
			}
		}
	}
}

// State returns a copy of the device's state for one gantry.
func (d *CrossingDetector) State(deviceID, gantryID string) (domain.GeofenceState, bool) {
	s, ok := d.devices.Load(deviceID)
	if !ok {
		return domain.GeofenceState{}, false
	}
	slot := s.(*deviceSlot)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	st, ok := slot.states[gantryID]
	if !ok {
		return domain.GeofenceState{}, false
	}
	return *st, true
}

// Rejected counts malformed fixes.
func (d *CrossingDetector) Rejected() int64 { return d.rejected.Load() }

// Dropped counts out of order fixes.
func (d *CrossingDetector) Dropped() int64 { return d.dropped.Load() }

// Limited counts fixes refused by the per-device rate limit.
func (d *CrossingDetector) Limited() int64 { return d.limited.Load() }

func ValidateFix(fix domain.PositionFix) error {
	switch {
	case fix.DeviceID == "":
		return fmt.Errorf("vehicle_id: required: %w", domain.ErrMalformedFix)
	case fix.Timestamp.IsZero():
		return fmt.Errorf("timestamp: required: %w", domain.ErrMalformedFix)
	case math.IsNaN(fix.Lat) || fix.Lat < -90 || fix.Lat > 90:
		return fmt.Errorf("latitude: must be between -90 and 90: %w", domain.ErrMalformedFix)
	case math.IsNaN(fix.Lon) || fix.Lon < -180 || fix.Lon > 180:
		return fmt.Errorf("longitude: must be between -180 and 180: %w", domain.ErrMalformedFix)
	}
	return nil
}
