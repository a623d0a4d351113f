package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "drivers:geo"

// RedisIndex wraps a Redis GEO set of driver positions.
type RedisIndex struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

func NewRedisIndex(client *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisIndex{client: client, key: key, timeout: time.Second}
}

// Upsert stores or moves a driver.
func (i *RedisIndex) Upsert(driverID string, p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	return i.client.GeoAdd(ctx, i.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// Remove deletes a driver from the set.
func (i *RedisIndex) Remove(driverID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	return i.client.ZRem(ctx, i.key, driverID).Err()
}

// Within returns drivers within radiusKM of center. Redis orders by distance
// only, so ties are re-sorted by id.
func (i *RedisIndex) Within(center Point, radiusKM float64) ([]Candidate, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	results, err := i.client.GeoSearchLocation(ctx, i.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{ID: r.Name, DistanceKM: r.Dist})
	}
	SortCandidates(out)
	return out, nil
}

// Ping checks connectivity for readiness probes.
func (i *RedisIndex) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}
