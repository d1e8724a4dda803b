package devserver

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
)

// GeoStore indexes last-known driver positions for radius queries.
type GeoStore interface {
	Upsert(ctx context.Context, driverID int64, c models.Coord) error
	Nearby(ctx context.Context, c models.Coord, radiusKm float64) ([]int64, error)
	Remove(ctx context.Context, driverID int64) error
}

type memoryGeoStore struct {
	mu        sync.RWMutex
	positions map[int64]models.Coord
}

func newMemoryGeoStore() *memoryGeoStore {
	return &memoryGeoStore{positions: make(map[int64]models.Coord)}
}

func (m *memoryGeoStore) Upsert(_ context.Context, driverID int64, c models.Coord) error {
	m.mu.Lock()
	m.positions[driverID] = c
	m.mu.Unlock()
	return nil
}

func (m *memoryGeoStore) Nearby(_ context.Context, c models.Coord, radiusKm float64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int64
	for id, pos := range m.positions {
		if geo.DistanceKm(c, pos) <= radiusKm {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memoryGeoStore) Remove(_ context.Context, driverID int64) error {
	m.mu.Lock()
	delete(m.positions, driverID)
	m.mu.Unlock()
	return nil
}

// redisGeoStore keeps driver positions in one Redis geo set.
type redisGeoStore struct {
	rdb *redis.Client
	key string
}

func newRedisGeoStore(addr, password, key string) (*redisGeoStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &redisGeoStore{rdb: rdb, key: key}, nil
}

func (r *redisGeoStore) Upsert(ctx context.Context, driverID int64, c models.Coord) error {
	return r.rdb.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      strconv.FormatInt(driverID, 10),
		Longitude: c.Lon,
		Latitude:  c.Lat,
	}).Err()
}

func (r *redisGeoStore) Nearby(ctx context.Context, c models.Coord, radiusKm float64) ([]int64, error) {
	locs, err := r.rdb.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  c.Lon,
		Latitude:   c.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(locs))
	for _, name := range locs {
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r *redisGeoStore) Remove(ctx context.Context, driverID int64) error {
	return r.rdb.ZRem(ctx, r.key, strconv.FormatInt(driverID, 10)).Err()
}
