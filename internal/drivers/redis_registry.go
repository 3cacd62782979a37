package drivers

import (
	"context"
	"strconv"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis is a Registry backed by Redis GEO commands plus a metadata hash per
// driver, for deployments running more than one gateway process against a
// shared driver location index. It satisfies the same Registry interface as
// InMemory so the candidate selector and session router are agnostic to
// which backend is wired.
type Redis struct {
	client  *redis.Client
	geoKey  string
	knownID string // set of currently registered connIds, so All() doesn't need a KEYS scan
}

func NewRedis(addr, password, geoKey string) *Redis {
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		geoKey:  geoKey,
		knownID: geoKey + ":known",
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Register(connID string, driverID *string) {
	ctx := context.Background()
	r.client.SAdd(ctx, r.knownID, connID)
	fields := map[string]interface{}{"available": "false"}
	if driverID != nil {
		fields["driverId"] = *driverID
	}
	r.client.HSet(ctx, r.metaKey(connID), fields)
}

func (r *Redis) SetAvailable(connID string, available bool) bool {
	ctx := context.Background()
	return r.client.HSet(ctx, r.metaKey(connID), "available", strconv.FormatBool(available)).Err() == nil
}

func (r *Redis) UpdateLocation(connID string, lat, lng float64, atMs int64) bool {
	if !finite(lat) || !finite(lng) {
		return false
	}
	ctx := context.Background()
	if err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: lng, Latitude: lat, Name: connID}).Err(); err != nil {
		return false
	}
	return r.client.HSet(ctx, r.metaKey(connID), "lastAtMs", strconv.FormatInt(atMs, 10)).Err() == nil
}

func (r *Redis) Get(connID string) (Presence, bool) {
	ctx := context.Background()
	m, err := r.client.HGetAll(ctx, r.metaKey(connID)).Result()
	if err != nil || len(m) == 0 {
		return Presence{}, false
	}
	p := Presence{ConnID: connID, Available: m["available"] == "true"}
	if v, ok := m["driverId"]; ok && v != "" {
		p.DriverID = &v
	}
	if v, ok := m["lastAtMs"]; ok {
		if atMs, err := strconv.ParseInt(v, 10, 64); err == nil {
			if pos, err := r.client.GeoPos(ctx, r.geoKey, connID).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
				p.Last = &models.LocationFix{
					Coordinate: models.Coordinate{Lat: pos[0].Latitude, Lng: pos[0].Longitude},
					AtMs:       atMs,
				}
			}
		}
	}
	return p, true
}

func (r *Redis) Remove(connID string) {
	ctx := context.Background()
	r.client.SRem(ctx, r.knownID, connID)
	r.client.Del(ctx, r.metaKey(connID))
	r.client.ZRem(ctx, r.geoKey, connID)
}

func (r *Redis) All() []Presence {
	ctx := context.Background()
	ids, err := r.client.SMembers(ctx, r.knownID).Result()
	if err != nil {
		return nil
	}
	out := make([]Presence, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Redis) metaKey(connID string) string { return "driver:meta:" + connID }
