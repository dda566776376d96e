package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/resq-relay/internal/models"
)

// RedisIndex implements Index on Redis GEO commands so the pending set
// survives relay restarts and is shared with the archiver.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(requestID string, loc models.Coord) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
		Name:      requestID,
	}).Result()
}

func (r *RedisIndex) Remove(requestID string) {
	// GEO sets are plain sorted sets underneath.
	_ = r.client.ZRem(r.ctx, r.key, requestID).Err()
}

func (r *RedisIndex) Nearest(loc models.Coord, limit int) []Entry {
	res, err := r.client.GeoRadius(r.ctx, r.key, loc.Lng, loc.Lat, &redis.GeoRadiusQuery{
		Radius:    50000,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]Entry, 0, len(res))
	for _, g := range res {
		out = append(out, Entry{
			RequestID: g.Name,
			Location:  models.Coord{Lat: g.Latitude, Lng: g.Longitude},
			DistM:     g.Dist,
		})
	}
	return out
}
