package geo

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-relay/internal/models"
)

func TestRegistryUpsertLastWriteWins(t *testing.T) {
	r := NewRegistry()
	t0 := time.UnixMilli(1_700_000_000_000)

	r.Upsert("d1", 1, 2, t0)
	r.Upsert("d1", 3, 4, t0.Add(time.Second))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.DriverPosition{DriverID: "d1", Latitude: 3, Longitude: 4, UpdatedAt: t0.Add(time.Second)}, snap["d1"])
	assert.Equal(t, 1, r.Len())
}

func TestRegistryStoresOutOfRangeCoordinates(t *testing.T) {
	r := NewRegistry()
	r.Upsert("weird", 123.4, -999, time.Time{})

	p, ok := r.Get("weird")
	require.True(t, ok)
	assert.Equal(t, 123.4, p.Latitude)
	assert.Equal(t, -999.0, p.Longitude)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestRegistryIdempotentUpsert(t *testing.T) {
	r := NewRegistry()
	r.Upsert("d1", 5, 6, time.Time{})
	before := r.Snapshot()["d1"]
	r.Upsert("d1", 5, 6, time.Time{})
	after := r.Snapshot()["d1"]

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, before.Latitude, after.Latitude)
	assert.Equal(t, before.Longitude, after.Longitude)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestRegistrySnapshotIsIsolated(t *testing.T) {
	r := NewRegistry()
	r.Upsert("d1", 1, 1, time.Time{})

	snap := r.Snapshot()
	r.Upsert("d1", 9, 9, time.Time{})
	r.Upsert("d2", 2, 2, time.Time{})
	snap["d3"] = models.DriverPosition{DriverID: "d3"}

	assert.Equal(t, 1.0, snap["d1"].Latitude)
	assert.Len(t, r.Snapshot(), 2)
	_, ok := r.Get("d3")
	assert.False(t, ok)
}

func TestRegistryRemoveIfKeepsNewerEntry(t *testing.T) {
	r := NewRegistry()
	old := r.Upsert("d1", 1, 1, time.UnixMilli(1))
	r.Upsert("d1", 2, 2, time.UnixMilli(2))

	assert.False(t, r.RemoveIf("d1", old))
	assert.Equal(t, 1, r.Len())

	cur, _ := r.Get("d1")
	assert.True(t, r.RemoveIf("d1", cur))
	assert.Zero(t, r.Len())

	r.Upsert("d2", 0, 0, time.Time{})
	r.Remove("d2")
	assert.Zero(t, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const writers, updates = 16, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("d%d", w)
			for i := 0; i < updates; i++ {
				// latitude and longitude always move together
				r.Upsert(id, float64(i), float64(i), time.Time{})
			}
		}(w)
	}
	for rd := 0; rd < 4; rd++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				for _, p := range r.Snapshot() {
					if p.Latitude != p.Longitude {
						t.Errorf("torn entry for %s: %v", p.DriverID, p)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers, r.Len())
	for _, p := range r.Snapshot() {
		assert.Equal(t, float64(updates-1), p.Latitude)
	}
}
