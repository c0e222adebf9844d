package service

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/nandanugg/tollgate/module/core/domain"
)

const earthRadiusMeters = 6371000

// metersPerDegreeLat is used for the bounding-box prefilter only.
const metersPerDegreeLat = earthRadiusMeters * math.Pi / 180

// GeofenceIndex is an immutable set of gantries. Safe for concurrent readers.
type GeofenceIndex struct {
	gantries []domain.Gantry
	byID     map[string]domain.Gantry
}

func NewGeofenceIndex(gantries []domain.Gantry) (*GeofenceIndex, error) {
	idx := &GeofenceIndex{
		gantries: make([]domain.Gantry, 0, len(gantries)),
		byID:     make(map[string]domain.Gantry, len(gantries)),
	}
	for _, g := range gantries {
		if err := validateGantry(g); err != nil {
			return nil, err
		}
		if _, dup := idx.byID[g.ID]; dup {
			return nil, fmt.Errorf("gantry %q: duplicate id: %w", g.ID, domain.ErrInvalidGantry)
		}
		idx.byID[g.ID] = g
		idx.gantries = append(idx.gantries, g)
	}
	return idx, nil
}

func validateGantry(g domain.Gantry) error {
	switch {
	case g.ID == "":
		return fmt.Errorf("gantry id: required: %w", domain.ErrInvalidGantry)
	case g.Lat < -90 || g.Lat > 90:
		return fmt.Errorf("gantry %q latitude: must be between -90 and 90: %w", g.ID, domain.ErrInvalidGantry)
	case g.Lon < -180 || g.Lon > 180:
		return fmt.Errorf("gantry %q longitude: must be between -180 and 180: %w", g.ID, domain.ErrInvalidGantry)
	case !(g.RadiusMeters > 0):
		return fmt.Errorf("gantry %q radius: must be positive: %w", g.ID, domain.ErrInvalidGantry)
	case g.Price.IsNegative():
		return fmt.Errorf("gantry %q price: must not be negative: %w", g.ID, domain.ErrInvalidGantry)
	case !domain.ValidAmount(g.Price):
		return fmt.Errorf("gantry %q price: at most %d decimal places: %w", g.ID, domain.MoneyScale, domain.ErrInvalidGantry)
	}
	return nil
}

// Lookup returns every gantry whose circle contains the point, possibly none.
func (idx *GeofenceIndex) Lookup(lat, lon float64) []domain.Gantry {
	var hits []domain.Gantry
	for _, g := range idx.gantries {
		if math.Abs(lat-g.Lat)*metersPerDegreeLat > g.RadiusMeters {
			continue
		}
		if haversine(lat, lon, g.Lat, g.Lon) <= g.RadiusMeters {
			hits = append(hits, g)
		}
	}
	return hits
}

func (idx *GeofenceIndex) Get(id string) (domain.Gantry, bool) {
	g, ok := idx.byID[id]
	return g, ok
}

func (idx *GeofenceIndex) Gantries() []domain.Gantry {
	out := make([]domain.Gantry, len(idx.gantries))
	copy(out, idx.gantries)
	return out
}

// GeofenceRegistry holds the live index and swaps it atomically on reload.
type GeofenceRegistry struct {
	current atomic.Pointer[GeofenceIndex]
}

func NewGeofenceRegistry(gantries []domain.Gantry) (*GeofenceRegistry, error) {
	r := &GeofenceRegistry{}
	if err := r.Swap(gantries); err != nil {
		return nil, err
	}
	return r, nil
}

// Swap validates the new set and replaces the index. On error the old index stays.
func (r *GeofenceRegistry) Swap(gantries []domain.Gantry) error {
	idx, err := NewGeofenceIndex(gantries)
	if err != nil {
		return err
	}
	r.current.Store(idx)
	return nil
}

func (r *GeofenceRegistry) Index() *GeofenceIndex {
	return r.current.Load()
}

func (r *GeofenceRegistry) Gantries() []domain.Gantry {
	return r.Index().Gantries()
}

func (r *GeofenceRegistry) Lookup(lat, lon float64) []domain.Gantry {
	return r.Index().Lookup(lat, lon)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
