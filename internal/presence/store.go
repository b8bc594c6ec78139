package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"backend-locshare/internal/db"
	"backend-locshare/internal/events"
	"backend-locshare/internal/shared/geo"
	"backend-locshare/internal/stream"

	"github.com/jackc/pgx/v5"
)

// Store reads and writes the presence fields of users/{uid}: the online
// flag and the last known coordinates. Every write is announced on the
// user's topic so watchers reload.
type Store struct {
	db     db.Querier
	hub    *stream.Hub
	events events.Publisher
	log    *slog.Logger
}

func NewStore(db db.Querier, hub *stream.Hub, pub events.Publisher) *Store {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Store{
		db:     db,
		hub:    hub,
		events: pub,
		log:    slog.Default().With("component", "presence"),
	}
}

func (s *Store) SetOnline(ctx context.Context, uid string, online bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_profiles (id, online)
		VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET online = EXCLUDED.online, updated_at = now()
	`, uid, online)
	if err != nil {
		return err
	}

	s.changed(uid, "online")
	s.publish(ctx, events.RoutingOnline, events.OnlineChanged{UserID: uid, Online: online, At: time.Now()})
	return nil
}

// SetLatLng overwrites the current coordinates. Last write wins.
func (s *Store) SetLatLng(ctx context.Context, uid string, p geo.Point) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_profiles (id, lat, lng)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, updated_at = now()
	`, uid, p.Lat, p.Lng)
	if err != nil {
		return err
	}

	s.changed(uid, "latlng")
	s.publish(ctx, events.RoutingLocation, events.LocationChanged{UserID: uid, Lat: p.Lat, Lng: p.Lng, At: time.Now()})
	return nil
}

func (s *Store) AppendTrackPoint(ctx context.Context, uid string, p geo.Point, recordedAt time.Time) (TrackPoint, error) {
	point := TrackPoint{UserID: uid, Lat: p.Lat, Lng: p.Lng, RecordedAt: recordedAt}
	row := s.db.QueryRow(ctx, `
		INSERT INTO track_points (user_id, lat, lng, recorded_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, uid, p.Lat, p.Lng, recordedAt)
	if err := row.Scan(&point.ID, &point.CreatedAt); err != nil {
		return TrackPoint{}, err
	}
	return point, nil
}

// TrackPoints returns the most recent persisted points, newest first.
func (s *Store) TrackPoints(ctx context.Context, uid string, limit int) ([]TrackPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, lat, lng, recorded_at, created_at
		FROM track_points WHERE user_id=$1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TrackPoint{}
	for rows.Next() {
		var p TrackPoint
		if err := rows.Scan(&p.ID, &p.UserID, &p.Lat, &p.Lng, &p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Online reports false for users without a profile row.
func (s *Store) Online(ctx context.Context, uid string) (bool, error) {
	var online bool
	err := s.db.QueryRow(ctx, `SELECT online FROM user_profiles WHERE id=$1`, uid).Scan(&online)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return online, err
}

// LatLng returns nil until both coordinates have been written.
func (s *Store) LatLng(ctx context.Context, uid string) (*geo.Point, error) {
	var (
		p   geo.Point
		has bool
	)
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(lat,0), COALESCE(lng,0), (lat IS NOT NULL AND lng IS NOT NULL)
		FROM user_profiles WHERE id=$1
	`, uid).Scan(&p.Lat, &p.Lng, &has)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) OnlineUsers(ctx context.Context, limit int) ([]OnlineUser, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, lat, lng, photo_url
		FROM user_profiles
		WHERE online AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []OnlineUser{}
	for rows.Next() {
		var u OnlineUser
		if err := rows.Scan(&u.UID, &u.Lat, &u.Lng, &u.PhotoURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) WatchOnline(ctx context.Context, uid string) *stream.Subscription[bool] {
	return stream.Watch(ctx, s.hub, stream.UserTopic(uid), func(ctx context.Context) (bool, error) {
		return s.Online(ctx, uid)
	})
}

func (s *Store) WatchLatLng(ctx context.Context, uid string) *stream.Subscription[*geo.Point] {
	return stream.Watch(ctx, s.hub, stream.UserTopic(uid), func(ctx context.Context) (*geo.Point, error) {
		return s.LatLng(ctx, uid)
	})
}

func (s *Store) WatchOnlineUsers(ctx context.Context, limit int) *stream.Subscription[[]OnlineUser] {
	return stream.Watch(ctx, s.hub, stream.OnlineUsersTopic, func(ctx context.Context) ([]OnlineUser, error) {
		return s.OnlineUsers(ctx, limit)
	})
}

func (s *Store) changed(uid, field string) {
	if s.hub == nil {
		return
	}
	payload, _ := json.Marshal(change{UID: uid, Field: field})
	s.hub.Broadcast(stream.UserTopic(uid), payload)
	s.hub.Broadcast(stream.OnlineUsersTopic, payload)
}

func (s *Store) publish(ctx context.Context, routingKey string, msg any) {
	if err := s.events.PublishJSON(ctx, routingKey, msg); err != nil {
		s.log.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}
