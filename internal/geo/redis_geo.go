package geo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/school-carpool/internal/models"
)

// RedisDirectory implements Directory using Redis GEO commands plus a hash
// per family for profile metadata.
type RedisDirectory struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisDirectory(addr, password, key string) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c, key: key, ctx: context.Background()}
}

func NewRedisDirectoryWithClient(c *redis.Client, key string) *RedisDirectory {
	return &RedisDirectory{client: c, key: key, ctx: context.Background()}
}

func (r *RedisDirectory) Upsert(f models.FamilyProfile) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: f.Home.Lon, Latitude: f.Home.Lat, Name: f.ID}).Result()
	meta, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = r.client.HSet(r.ctx, metaKey(f.ID), map[string]interface{}{
		"profile": string(meta),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisDirectory) Get(id string) (models.FamilyProfile, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result()
	if err != nil || len(m) == 0 {
		return models.FamilyProfile{}, false
	}
	return profileFromMeta(id, m)
}

func (r *RedisDirectory) Nearby(lat, lon, radiusM float64, limit int) []models.FamilyProfile {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.FamilyProfile, 0, len(res))
	for _, g := range res {
		f := models.FamilyProfile{ID: g.Name}
		f.Home.Lat = g.Latitude
		f.Home.Lon = g.Longitude
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			if full, ok := profileFromMeta(g.Name, m); ok {
				f = full
			}
		}
		out = append(out, f)
	}
	return out
}

func profileFromMeta(id string, m map[string]string) (models.FamilyProfile, bool) {
	raw, ok := m["profile"]
	if !ok {
		return models.FamilyProfile{}, false
	}
	var f models.FamilyProfile
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return models.FamilyProfile{}, false
	}
	if f.ID == "" {
		f.ID = id
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Updated = t
		}
	}
	return f, true
}

func metaKey(id string) string { return "family:meta:" + id }
