package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-locshare/internal/shared/geo"
	"backend-locshare/internal/stream"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var errDB = errors.New("db error")

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestSetOnlineBroadcastsAndPublishes(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO user_profiles \(id, online\)`).
		WithArgs("user-1", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	hub := stream.NewHub(nil)
	userClient := hub.Register(stream.UserTopic("user-1"))
	defer hub.Unregister(userClient)
	markers := hub.Register(stream.OnlineUsersTopic)
	defer hub.Unregister(markers)

	pub := &recordingPublisher{}
	store := NewStore(mock, hub, pub)
	if err := store.SetOnline(context.Background(), "user-1", true); err != nil {
		t.Fatalf("set online: %v", err)
	}

	for _, c := range []*stream.Client{userClient, markers} {
		select {
		case <-c.Send:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("expected change on %s", c.Topic)
		}
	}
	if len(pub.keys) != 1 || pub.keys[0] != "presence.online" {
		t.Fatalf("unexpected events %v", pub.keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetOnlineErrorSkipsBroadcast(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO user_profiles \(id, online\)`).
		WithArgs("user-1", false).
		WillReturnError(errDB)

	hub := stream.NewHub(nil)
	client := hub.Register(stream.UserTopic("user-1"))
	defer hub.Unregister(client)

	pub := &recordingPublisher{}
	err := NewStore(mock, hub, pub).SetOnline(context.Background(), "user-1", false)
	if !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
	select {
	case <-client.Send:
		t.Fatalf("unexpected broadcast after failed write")
	default:
	}
	if len(pub.keys) != 0 {
		t.Fatalf("unexpected events %v", pub.keys)
	}
}

func TestSetLatLngPublishFailureIsNotFatal(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO user_profiles \(id, lat, lng\)`).
		WithArgs("user-1", 4.6, -74.1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	pub := &recordingPublisher{err: errors.New("broker down")}
	if err := NewStore(mock, nil, pub).SetLatLng(context.Background(), "user-1", geo.Point{Lat: 4.6, Lng: -74.1}); err != nil {
		t.Fatalf("set latlng: %v", err)
	}
	if len(pub.keys) != 1 || pub.keys[0] != "presence.location" {
		t.Fatalf("unexpected events %v", pub.keys)
	}
}

func TestAppendTrackPoint(t *testing.T) {
	mock := newMock(t)
	recordedAt := time.Now()
	createdAt := time.Now()
	mock.ExpectQuery(`INSERT INTO track_points`).
		WithArgs("user-1", 4.6, -74.1, recordedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), createdAt))

	point, err := NewStore(mock, nil, nil).AppendTrackPoint(context.Background(), "user-1", geo.Point{Lat: 4.6, Lng: -74.1}, recordedAt)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if point.ID != 42 || point.UserID != "user-1" {
		t.Fatalf("unexpected point %+v", point)
	}
}

func TestTrackPoints(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, user_id, lat, lng, recorded_at, created_at`).
		WithArgs("user-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "lat", "lng", "recorded_at", "created_at"}).
			AddRow(int64(2), "user-1", 1.0, 2.0, now, now).
			AddRow(int64(1), "user-1", 1.1, 2.1, now.Add(-time.Second), now))

	points, err := NewStore(mock, nil, nil).TrackPoints(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if len(points) != 2 || points[0].ID != 2 {
		t.Fatalf("unexpected points %+v", points)
	}
}

func TestOnlineMissingRow(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT online FROM user_profiles`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	online, err := NewStore(mock, nil, nil).Online(context.Background(), "ghost")
	if err != nil || online {
		t.Fatalf("expected offline without error, got %v %v", online, err)
	}
}

func TestLatLng(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT COALESCE\(lat,0\), COALESCE\(lng,0\)`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng", "has"}).AddRow(4.6, -74.1, true))
	mock.ExpectQuery(`SELECT COALESCE\(lat,0\), COALESCE\(lng,0\)`).
		WithArgs("user-2").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng", "has"}).AddRow(0.0, 0.0, false))
	mock.ExpectQuery(`SELECT COALESCE\(lat,0\), COALESCE\(lng,0\)`).
		WithArgs("user-3").
		WillReturnError(errDB)

	store := NewStore(mock, nil, nil)
	p, err := store.LatLng(context.Background(), "user-1")
	if err != nil || p == nil || p.Lat != 4.6 {
		t.Fatalf("unexpected point %v %v", p, err)
	}
	p, err = store.LatLng(context.Background(), "user-2")
	if err != nil || p != nil {
		t.Fatalf("expected nil point before first fix, got %v %v", p, err)
	}
	if _, err := store.LatLng(context.Background(), "user-3"); !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestOnlineUsers(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, lat, lng, photo_url`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "lat", "lng", "photo_url"}).
			AddRow("user-1", 4.6, -74.1, "").
			AddRow("user-2", 4.7, -74.0, "http://photos/user-2.jpg"))

	users, err := NewStore(mock, nil, nil).OnlineUsers(context.Background(), 100)
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(users) != 2 || users[1].PhotoURL == "" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestWatchOnlineFollowsWrites(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT online FROM user_profiles`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"online"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO user_profiles \(id, online\)`).
		WithArgs("user-1", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT online FROM user_profiles`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"online"}).AddRow(true))

	hub := stream.NewHub(nil)
	store := NewStore(mock, hub, nil)
	sub := store.WatchOnline(context.Background(), "user-1")
	defer sub.Close()

	if v := next(t, sub); v {
		t.Fatalf("expected initial offline")
	}
	if err := store.SetOnline(context.Background(), "user-1", true); err != nil {
		t.Fatalf("set online: %v", err)
	}
	if v := next(t, sub); !v {
		t.Fatalf("expected online after write")
	}
}

func TestWatchOnlineUsersEndsOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT id, lat, lng, photo_url`).
		WithArgs(5).
		WillReturnError(errDB)

	sub := NewStore(mock, stream.NewHub(nil), nil).WatchOnlineUsers(context.Background(), 5)
	for range sub.Values() {
	}
	if !errors.Is(sub.Err(), errDB) {
		t.Fatalf("expected db error, got %v", sub.Err())
	}
}

func next[T any](t *testing.T, sub *stream.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Values():
		if !ok {
			t.Fatalf("subscription ended: %v", sub.Err())
		}
		return v
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for value")
	}
	var zero T
	return zero
}
