package geo

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/example/ride-relay/internal/models"
)

// Registry is the in-memory store of each driver's latest position.
// Entries are stored by value, so readers never share memory with writers.
type Registry struct {
	drivers cmap.ConcurrentMap[string, models.DriverPosition]
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{drivers: cmap.New[models.DriverPosition](), now: time.Now}
}

// Upsert overwrites the entry for driverID. Coordinates are stored as
// given; a zero ts is replaced with the registry clock.
func (r *Registry) Upsert(driverID string, lat, lon float64, ts time.Time) models.DriverPosition {
	if ts.IsZero() {
		ts = r.now()
	}
	p := models.DriverPosition{DriverID: driverID, Latitude: lat, Longitude: lon, UpdatedAt: ts}
	r.drivers.Set(driverID, p)
	return p
}

// Get returns a copy of one entry.
func (r *Registry) Get(driverID string) (models.DriverPosition, bool) {
	return r.drivers.Get(driverID)
}

// Remove deletes an entry. Nothing in the default relay flow calls it;
// it backs the opt-in evict-on-disconnect mode.
func (r *Registry) Remove(driverID string) {
	r.drivers.Remove(driverID)
}

// RemoveIf deletes driverID only while its entry still equals p, so an
// update that raced in from another connection survives.
func (r *Registry) RemoveIf(driverID string, p models.DriverPosition) bool {
	return r.drivers.RemoveCb(driverID, func(_ string, cur models.DriverPosition, exists bool) bool {
		return exists && cur == p
	})
}

// Snapshot returns an isolated copy of every entry.
func (r *Registry) Snapshot() map[string]models.DriverPosition {
	return r.drivers.Items()
}

func (r *Registry) Len() int { return r.drivers.Count() }
