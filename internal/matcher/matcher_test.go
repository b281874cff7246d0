package matcher

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-relay/internal/geo"
	"github.com/example/ride-relay/internal/models"
)

type fakeRegistry struct{ drivers map[string]models.DriverPosition }

func (f *fakeRegistry) Snapshot() map[string]models.DriverPosition {
	out := make(map[string]models.DriverPosition, len(f.drivers))
	for k, v := range f.drivers {
		out[k] = v
	}
	return out
}

func pos(id string, lat, lon float64) models.DriverPosition {
	return models.DriverPosition{DriverID: id, Latitude: lat, Longitude: lon, UpdatedAt: time.Now()}
}

func TestFindNearbyEmptySnapshot(t *testing.T) {
	res := FindNearby(37.7749, -122.4194, DefaultRadiusMeters, nil)
	require.NotNil(t, res)
	assert.Empty(t, res)
}

func TestFindNearbySingleClose(t *testing.T) {
	snap := map[string]models.DriverPosition{"d1": pos("d1", 37.7749, -122.4194)}
	res := FindNearby(37.7750, -122.4195, DefaultRadiusMeters, snap)

	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].DriverID)
	assert.Less(t, res[0].DistanceMeters, 20.0)
	assert.Equal(t, geo.Haversine(37.7750, -122.4195, 37.7749, -122.4194), res[0].DistanceMeters)
}

func TestFindNearbyExcludesFarDriver(t *testing.T) {
	// 0.09 degrees of latitude is roughly 10 km
	snap := map[string]models.DriverPosition{"d2": pos("d2", 37.7749+0.09, -122.4194)}
	require.InDelta(t, 10000, geo.Haversine(37.7749, -122.4194, 37.7749+0.09, -122.4194), 100)

	res := FindNearby(37.7749, -122.4194, 5000, snap)
	assert.Empty(t, res)
}

func TestFindNearbyOrdersNearestFirst(t *testing.T) {
	snap := map[string]models.DriverPosition{
		"far":  pos("far", 37.7900, -122.4194),
		"near": pos("near", 37.7760, -122.4194),
		"mid":  pos("mid", 37.7800, -122.4194),
	}
	res := FindNearby(37.7749, -122.4194, 5000, snap)

	require.Len(t, res, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{res[0].DriverID, res[1].DriverID, res[2].DriverID})
}

func TestFindNearbyInclusiveBoundary(t *testing.T) {
	p := pos("edge", 37.78, -122.41)
	radius := geo.Haversine(37.7749, -122.4194, p.Latitude, p.Longitude)

	res := FindNearby(37.7749, -122.4194, radius, map[string]models.DriverPosition{"edge": p})
	assert.Len(t, res, 1)
}

func TestFindNearbyTiesOrderedByID(t *testing.T) {
	snap := map[string]models.DriverPosition{
		"b": pos("b", 1, 1),
		"a": pos("a", 1, 1),
		"c": pos("c", 1, 1),
	}
	res := FindNearby(1, 1, 10, snap)
	require.Len(t, res, 3)
	assert.Equal(t, "a", res[0].DriverID)
	assert.Equal(t, "b", res[1].DriverID)
	assert.Equal(t, "c", res[2].DriverID)
}

func TestFindNearbyRandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	snap := make(map[string]models.DriverPosition)
	for i := 0; i < 500; i++ {
		id := string(rune('A'+i%26)) + time.Duration(i).String()
		snap[id] = pos(id, 37.7+rng.Float64()*0.2, -122.5+rng.Float64()*0.2)
	}
	for _, radius := range []float64{0, 100, 1000, 5000, 20000} {
		res := FindNearby(37.8, -122.4, radius, snap)
		for i, r := range res {
			assert.LessOrEqual(t, r.DistanceMeters, radius)
			if i > 0 {
				assert.LessOrEqual(t, res[i-1].DistanceMeters, r.DistanceMeters)
			}
		}
	}
}

func TestServiceNearbySkipsStaleEntries(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	reg := &fakeRegistry{drivers: map[string]models.DriverPosition{
		"fresh": {DriverID: "fresh", Latitude: 1, Longitude: 1, UpdatedAt: now.Add(-10 * time.Second)},
		"stale": {DriverID: "stale", Latitude: 1, Longitude: 1, UpdatedAt: now.Add(-10 * time.Minute)},
	}}
	s := NewService(reg, 1000, time.Minute, 1)
	s.now = func() time.Time { return now }

	res, err := s.Nearby(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "fresh", res[0].DriverID)
	assert.Len(t, reg.drivers, 2, "staleness filter must not touch the registry")
}

func TestServiceDefaults(t *testing.T) {
	s := NewService(&fakeRegistry{}, 0, 0, 0)
	assert.Equal(t, DefaultRadiusMeters, s.Radius)

	res, err := s.Nearby(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestServiceNearbyHonoursCancelledContext(t *testing.T) {
	s := NewService(&fakeRegistry{}, 100, 0, 1)
	require.NoError(t, s.sem.Acquire(context.Background(), 1))
	defer s.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Nearby(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
