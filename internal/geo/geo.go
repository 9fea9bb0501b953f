package geo

import (
	"log/slog"
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// DefaultRadiusKm is used when a query does not name a usable radius.
const DefaultRadiusKm = 5.0

// Index ranks a presence snapshot by great-circle distance from an origin.
// It holds no state of its own; every query is a pure function of its inputs.
type Index struct {
	logger *slog.Logger
}

func NewIndex(logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Index{logger: logger}
}

// Query returns the drivers within radiusKm of origin, ascending by distance.
// Ties keep the snapshot's order (stable sort). Entries with out-of-range
// coordinates are skipped and logged as data-quality events rather than
// failing the whole query. A non-positive radius falls back to the default.
func (g *Index) Query(origin models.Coord, radiusKm float64, population []models.DriverPresence) []models.Candidate {
	if radiusKm <= 0 || math.IsNaN(radiusKm) {
		radiusKm = DefaultRadiusKm
	}
	out := make([]models.Candidate, 0, len(population))
	for _, p := range population {
		if !p.Coord.Valid() {
			observability.PresenceSkipped.Inc()
			g.logger.Warn("skipping presence with out-of-range coordinates",
				"driver_id", p.DriverID, "lng", p.Coord.Lng, "lat", p.Coord.Lat)
			continue
		}
		dist := HaversineKm(origin, p.Coord)
		if dist <= radiusKm {
			out = append(out, models.Candidate{Presence: p, DistanceKm: dist})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// HaversineKm is the great-circle distance in kilometers on a mean Earth
// radius of 6371 km.
func HaversineKm(a, b models.Coord) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
