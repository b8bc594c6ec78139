package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"backend-locshare/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Object is a stored blob plus its metadata.
type Object struct {
	Key         string    `json:"key"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	ContentType string    `json:"content_type"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updated_at"`
	Data        []byte    `json:"-"`
}

// Service keeps blobs in Postgres and serves them under baseURL/storage/.
type Service struct {
	db      db.Querier
	baseURL string
}

func NewService(db db.Querier, publicBaseURL string) *Service {
	return &Service{db: db, baseURL: strings.TrimRight(publicBaseURL, "/")}
}

// PutObject overwrites the object at key and returns its retrieval URL.
// Each upload gets a new token in the URL so clients do not keep a stale copy.
func (s *Service) PutObject(ctx context.Context, key, userID, contentType string, data []byte) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	url := s.URL(key) + "?token=" + uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO storage_objects (key, user_id, kind, content_type, data, url)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (key) DO UPDATE SET user_id = EXCLUDED.user_id, kind = EXCLUDED.kind,
			content_type = EXCLUDED.content_type, data = EXCLUDED.data, url = EXCLUDED.url, updated_at = now()
	`, key, userID, kindOf(key), contentType, data, url)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) GetObject(ctx context.Context, key string) (Object, error) {
	obj := Object{Key: key}
	err := s.db.QueryRow(ctx, `
		SELECT user_id, kind, content_type, data, url, updated_at
		FROM storage_objects WHERE key=$1
	`, key).Scan(&obj.UserID, &obj.Kind, &obj.ContentType, &obj.Data, &obj.URL, &obj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, err
	}
	return obj, nil
}

func (s *Service) URL(key string) string {
	return s.baseURL + "/storage/" + key
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	return strings.Contains(key, "/")
}

// kindOf is the top-level folder of a key, e.g. profilePhotos.
func kindOf(key string) string {
	kind, _, _ := strings.Cut(key, "/")
	return kind
}
