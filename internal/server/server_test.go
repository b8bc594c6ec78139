package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-locshare/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const testSecret = "secret"

func accessToken(t *testing.T, uid string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid,
		"typ":     "access",
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     testSecret,
		ServerPort:    ":0",
		PublicBaseURL: "http://localhost:8080",
		MaxPhotoBytes: 1 << 20,
	}
}

func TestHealthRoute(t *testing.T) {
	s := NewServer(testConfig(), nil, nil, nil)
	defer s.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := NewServer(testConfig(), nil, nil, nil)
	defer s.Close()

	routes := []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/tracking/state"},
		{http.MethodPut, "/tracking/online"},
		{http.MethodGet, "/profile"},
		{http.MethodPost, "/profile/password"},
		{http.MethodGet, "/stream/ws/state"},
	}
	for _, rt := range routes {
		resp, err := s.App.Test(httptest.NewRequest(rt.method, rt.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", rt.method, rt.path, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", rt.method, rt.path, resp.StatusCode)
		}
	}
}

func TestStorageIsPublic(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM storage_objects`).
		WithArgs("profilePhotos/user-1.jpg").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "kind", "content_type", "data", "url", "updated_at"}).
			AddRow("user-1", "profilePhotos", "image/jpeg", []byte("jpeg"), "http://x", time.Now()))

	s := NewServer(testConfig(), mock, nil, nil)
	defer s.Close()

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/storage/profilePhotos/user-1.jpg", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected public object, got %v %v", resp, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogoutReleasesSessions(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	s := NewServer(testConfig(), mock, nil, nil)
	defer s.Close()

	released := ""
	s.Auth.OnSignOut(func(uid string) { released = uid })

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, "user-1"))
	resp, err := s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %v %v", resp, err)
	}
	if released != "user-1" {
		t.Fatalf("expected sign-out hooks to run")
	}
	if s.Tracking.Sessions() != 0 {
		t.Fatalf("expected no tracking sessions after logout")
	}
}

func TestBodyLimit(t *testing.T) {
	if got := bodyLimit(0); got != 4*1024*1024 {
		t.Fatalf("expected fiber default, got %d", got)
	}
	if got := bodyLimit(10 << 20); got <= 10<<20 {
		t.Fatalf("expected room above the photo limit, got %d", got)
	}
}
