package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineZero(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(0, 0, 0, 0))
	assert.Equal(t, 0.0, Haversine(37.7749, -122.4194, 37.7749, -122.4194))
}

func TestHaversineSymmetric(t *testing.T) {
	points := [][2]float64{
		{37.7749, -122.4194},
		{37.7750, -122.4195},
		{-33.8688, 151.2093},
		{51.5074, -0.1278},
		{0, 179.9},
		{0, -179.9},
		{89.9, 0},
	}
	for _, a := range points {
		for _, b := range points {
			assert.Equal(t, Haversine(a[0], a[1], b[0], b[1]), Haversine(b[0], b[1], a[0], a[1]))
		}
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	// one degree of latitude along a meridian is R*pi/180
	assert.InDelta(t, EarthRadiusMeters*math.Pi/180, Haversine(0, 0, 1, 0), 1e-6)

	// across the antimeridian is short, not half the globe
	assert.InDelta(t, 2*EarthRadiusMeters*math.Pi/180*0.1, Haversine(0, 179.9, 0, -179.9), 1e-3)

	// San Francisco neighbours used by the protocol tests, roughly 14 m apart
	d := Haversine(37.7749, -122.4194, 37.7750, -122.4195)
	assert.InDelta(t, 14.2, d, 0.5)
}

func TestHaversineNonNegative(t *testing.T) {
	assert.GreaterOrEqual(t, Haversine(10, 10, -10, -10), 0.0)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, Haversine(0, 0, 0, 180), 1.0)
}
