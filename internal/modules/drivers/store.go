// README: Presence store backed by Redis GEO plus one hash per driver.
package drivers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bidride/internal/types"
)

const (
	driverGeoKey      = "drivers:online"
	driverKeyPrefix   = "driver:"
	deviceTokenPrefix = "devices:"
	// Device tokens outlive presence; apps refresh them on login.
	deviceTokenTTL = 30 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Upsert(ctx context.Context, p Presence, ttl time.Duration, now time.Time) error {
	key := driverKey(p.DriverID)
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(p.DriverID),
		Longitude: p.Position.Lng,
		Latitude:  p.Position.Lat,
	})
	pipe.HSet(ctx, key,
		"seats", p.Seats,
		"vehicle", p.Vehicle,
		"lat", strconv.FormatFloat(p.Position.Lat, 'f', 6, 64),
		"lng", strconv.FormatFloat(p.Position.Lng, 'f', 6, 64),
		"updated_at", now.UTC().Format(time.RFC3339),
	)
	// A fresh presence starts available; an existing busy flag is kept.
	pipe.HSetNX(ctx, key, "status", string(StatusAvailable))
	pipe.Expire(ctx, key, ttl)
	if p.DeviceToken != "" {
		pipe.Set(ctx, deviceKey(p.DriverID), p.DeviceToken, deviceTokenTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Remove(ctx context.Context, id types.UserID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(id))
	pipe.Del(ctx, driverKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// SetStatus flips the status of an online driver; ErrUnknownDriver when the hash expired.
func (s *Store) SetStatus(ctx context.Context, id types.UserID, st Status) error {
	n, err := s.redis.Exists(ctx, driverKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownDriver
	}
	return s.redis.HSet(ctx, driverKey(id), "status", string(st)).Err()
}

// Nearby returns drivers in the GEO set within radiusKm, closest first, with their
// details. Members whose hash expired are pruned from the set.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Driver, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(locs))
	for i, l := range locs {
		cmds[i] = pipe.HGetAll(ctx, driverKey(types.UserID(l.Name)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var stale []interface{}
	out := make([]Driver, 0, len(locs))
	for i, l := range locs {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			stale = append(stale, l.Name)
			continue
		}
		d := parseDriver(types.UserID(l.Name), fields)
		d.Position = types.Point{Lat: l.Latitude, Lng: l.Longitude}
		d.DistanceKm = l.Dist
		out = append(out, d)
	}
	if len(stale) > 0 {
		_ = s.redis.ZRem(ctx, driverGeoKey, stale...).Err()
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id types.UserID) (*Driver, error) {
	fields, err := s.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrUnknownDriver
	}
	d := parseDriver(id, fields)
	return &d, nil
}

func (s *Store) SetDeviceToken(ctx context.Context, id types.UserID, token string) error {
	return s.redis.Set(ctx, deviceKey(id), token, deviceTokenTTL).Err()
}

// DeviceToken returns "" when the user never registered a device.
func (s *Store) DeviceToken(ctx context.Context, id types.UserID) (string, error) {
	val, err := s.redis.Get(ctx, deviceKey(id)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func parseDriver(id types.UserID, fields map[string]string) Driver {
	d := Driver{
		ID:      id,
		Vehicle: fields["vehicle"],
		Status:  Status(fields["status"]),
	}
	d.Seats, _ = strconv.Atoi(fields["seats"])
	d.Position.Lat, _ = strconv.ParseFloat(fields["lat"], 64)
	d.Position.Lng, _ = strconv.ParseFloat(fields["lng"], 64)
	if t, err := time.Parse(time.RFC3339, fields["updated_at"]); err == nil {
		d.UpdatedAt = t
	}
	return d
}

func driverKey(id types.UserID) string {
	return driverKeyPrefix + string(id)
}

func deviceKey(id types.UserID) string {
	return deviceTokenPrefix + string(id)
}
