package matcher

import (
	"context"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/example/ride-relay/internal/geo"
	"github.com/example/ride-relay/internal/models"
	"github.com/example/ride-relay/internal/observability"
)

// DefaultRadiusMeters is the matching radius used when none is configured.
const DefaultRadiusMeters = 5000.0

// Snapshotter is the read side of the driver registry.
type Snapshotter interface {
	Snapshot() map[string]models.DriverPosition
}

// FindNearby returns every driver within radiusMeters (inclusive) of the
// query point, nearest first. Equal distances are ordered by driver id.
func FindNearby(lat, lon, radiusMeters float64, snapshot map[string]models.DriverPosition) []models.NearbyDriver {
	out := make([]models.NearbyDriver, 0, len(snapshot))
	for _, p := range snapshot {
		dist := geo.Haversine(lat, lon, p.Latitude, p.Longitude)
		if dist <= radiusMeters {
			out = append(out, models.NearbyDriver{DriverPosition: p, DistanceMeters: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out
}

// Service answers nearby-driver queries against the live registry.
// At most a fixed number of queries compute at once so a burst of ride
// requests cannot starve the connection goroutines of CPU.
type Service struct {
	Registry Snapshotter
	Radius   float64
	MaxAge   time.Duration // zero disables the staleness filter

	sem *semaphore.Weighted
	now func() time.Time
}

// NewService builds a matcher. concurrency <= 0 means GOMAXPROCS.
func NewService(reg Snapshotter, radius float64, maxAge time.Duration, concurrency int) *Service {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Service{
		Registry: reg,
		Radius:   radius,
		MaxAge:   maxAge,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		now:      time.Now,
	}
}

// Nearby ranks the drivers around (lat, lon) using the configured radius.
// It only fails when ctx ends while waiting for a compute slot.
func (s *Service) Nearby(ctx context.Context, lat, lon float64) ([]models.NearbyDriver, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	start := time.Now()
	snap := s.Registry.Snapshot()
	if s.MaxAge > 0 {
		cutoff := s.now().Add(-s.MaxAge)
		for id, p := range snap {
			if p.UpdatedAt.Before(cutoff) {
				delete(snap, id)
			}
		}
	}
	res := FindNearby(lat, lon, s.Radius, snap)

	observability.MatchLatency.Observe(time.Since(start).Seconds())
	observability.MatchCandidates.Observe(float64(len(res)))
	observability.MatchesTotal.Inc()
	return res, nil
}
