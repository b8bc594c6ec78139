package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"backend-locshare/internal/db"
	"backend-locshare/internal/stream"

	"github.com/jackc/pgx/v5"
)

// Repository reads and writes the descriptive fields of users/{uid}.
type Repository struct {
	db  db.Querier
	hub *stream.Hub
	log *slog.Logger
}

func NewRepository(db db.Querier, hub *stream.Hub) *Repository {
	return &Repository{
		db:  db,
		hub: hub,
		log: slog.Default().With("component", "profile"),
	}
}

// CreateProfile writes name, email and phone, leaving presence untouched.
func (r *Repository) CreateProfile(ctx context.Context, uid, name, email, phone string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (id, name, email, phone)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, updated_at = now()
	`, uid, name, email, phone)
	if err != nil {
		return err
	}
	r.changed(uid)
	return nil
}

// Get returns nil when the user has no profile row.
func (r *Repository) Get(ctx context.Context, uid string) (*Profile, error) {
	var (
		p        Profile
		lat, lng float64
		hasPos   bool
	)
	err := r.db.QueryRow(ctx, `
		SELECT name, email, phone, online, COALESCE(lat,0), COALESCE(lng,0), (lat IS NOT NULL AND lng IS NOT NULL), photo_url, updated_at
		FROM user_profiles WHERE id=$1
	`, uid).Scan(&p.Name, &p.Email, &p.Phone, &p.Online, &lat, &lng, &hasPos, &p.PhotoURL, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.UID = uid
	if hasPos {
		p.Lat, p.Lng = &lat, &lng
	}
	return &p, nil
}

// UpdateNamePhone validates before touching the database.
func (r *Repository) UpdateNamePhone(ctx context.Context, uid, name, phone string) error {
	if err := ValidateNamePhone(name, phone); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (id, name, phone)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, updated_at = now()
	`, uid, name, phone)
	if err != nil {
		return err
	}
	r.log.Info("profile updated", "user_id", uid)
	r.changed(uid)
	return nil
}

// UpdatePhotoURL sets the photo URL; an empty url removes the photo.
func (r *Repository) UpdatePhotoURL(ctx context.Context, uid, url string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_profiles (id, photo_url)
		VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET photo_url = EXCLUDED.photo_url, updated_at = now()
	`, uid, url)
	if err != nil {
		r.log.Error("update photo url failed", "user_id", uid, "error", err)
		return err
	}
	r.changed(uid)
	return nil
}

func (r *Repository) Watch(ctx context.Context, uid string) *stream.Subscription[*Profile] {
	return stream.Watch(ctx, r.hub, stream.UserTopic(uid), func(ctx context.Context) (*Profile, error) {
		return r.Get(ctx, uid)
	})
}

// changed wakes profile watchers and the online-users listing, which shows
// photos on the markers.
func (r *Repository) changed(uid string) {
	if r.hub == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"uid": uid, "field": "profile"})
	r.hub.Broadcast(stream.UserTopic(uid), payload)
	r.hub.Broadcast(stream.OnlineUsersTopic, payload)
}
