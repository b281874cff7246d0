package ingest

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-relay/internal/models"
)

type geoWriter interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisGeo mirrors the latest driver positions into a Redis GEO set so
// other services can run GEOSEARCH without talking to the relay. Only the
// latest position is kept; there is no history.
type RedisGeo struct {
	client geoWriter
	closer func() error
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, closer: c.Close, key: key}
}

// RedisGeoFromClient wraps an existing client; Close leaves it open.
func RedisGeoFromClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Name() string { return "redis" }

func (r *RedisGeo) Publish(ctx context.Context, ev models.LocationEvent) error {
	// store as GEOADD plus a small metadata hash
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: ev.Longitude, Latitude: ev.Latitude, Name: ev.DriverID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(ev.DriverID), "updated", strconv.FormatInt(ev.Timestamp, 10)).Err()
}

func (r *RedisGeo) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func metaKey(id string) string { return "driver:meta:" + id }
