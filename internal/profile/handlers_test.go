package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"backend-locshare/internal/auth"
	"backend-locshare/internal/stream"

	"github.com/gofiber/fiber/v2"
)

type fakeAccounts struct{ err error }

func (f fakeAccounts) AccountEmail(_ context.Context, uid string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return uid + "@example.com", nil
}

func asUser(uid string, authTime time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", uid)
		c.Locals("auth_time", authTime)
		return c.Next()
	}
}

func newTestApp(t *testing.T, passwords PasswordChanger, photos PhotoStore) (*fiber.App, *Service, *memProfiles) {
	t.Helper()
	hub := stream.NewHub(nil)
	store := newMemProfiles(hub)
	svc := NewService(store, passwords, photos, fakeAccounts{}, hub)
	t.Cleanup(svc.Close)

	app := fiber.New()
	RegisterRoutes(app.Group("/profile"), svc, asUser("user-1", time.Now()), 1024)
	return app, svc, store
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, State) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 3000)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	var state State
	_ = json.NewDecoder(resp.Body).Decode(&state)
	return resp, state
}

func photoRequest(t *testing.T, data []byte, contentType string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="me.jpg"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPut, "/profile/photo", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandlersGetProfile(t *testing.T) {
	app, svc, _ := newTestApp(t, &fakePasswords{}, &fakePhotos{})

	resp, state := doJSON(t, app, http.MethodGet, "/profile", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if state.Profile == nil || state.Profile.Email != "user-1@example.com" {
		t.Fatalf("unexpected state %+v", state)
	}
	if svc.Sessions() != 1 {
		t.Fatalf("expected one editor")
	}
}

func TestHandlersSave(t *testing.T) {
	app, _, _ := newTestApp(t, &fakePasswords{}, &fakePhotos{})

	resp, state := doJSON(t, app, http.MethodPut, "/profile", `{"name":"Ana","phone":"3001234567"}`)
	if resp.StatusCode != http.StatusOK || state.Message != "profile updated" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, state)
	}

	resp, state = doJSON(t, app, http.MethodPut, "/profile", `{"name":"","phone":"3001234567"}`)
	if resp.StatusCode != http.StatusBadRequest || state.Error != "name must not be empty" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, state)
	}

	resp, state = doJSON(t, app, http.MethodDelete, "/profile/messages", "")
	if resp.StatusCode != http.StatusOK || state.Error != "" || state.Message != "" {
		t.Fatalf("expected cleared messages, got %+v", state)
	}
}

func TestHandlersSaveBackendFailure(t *testing.T) {
	app, _, store := newTestApp(t, &fakePasswords{}, &fakePhotos{})
	store.failWrite = errors.New("permission denied")

	resp, state := doJSON(t, app, http.MethodPut, "/profile", `{"name":"Ana","phone":"3001234567"}`)
	if resp.StatusCode != http.StatusBadGateway || state.Error != "permission denied" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, state)
	}
}

func TestHandlersPassword(t *testing.T) {
	passwords := &fakePasswords{}
	app, _, _ := newTestApp(t, passwords, &fakePhotos{})

	resp, _ := doJSON(t, app, http.MethodPost, "/profile/password", `{"password":"secret1","confirm":"other"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	resp, state := doJSON(t, app, http.MethodPost, "/profile/password", `{"password":"secret1","confirm":"secret1"}`)
	if resp.StatusCode != http.StatusOK || state.Message != "password updated" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, state)
	}

	passwords.err = auth.ErrRecentLoginRequired
	resp, state = doJSON(t, app, http.MethodPost, "/profile/password", `{"password":"secret1","confirm":"secret1"}`)
	if resp.StatusCode != http.StatusForbidden || state.Error != "this operation is sensitive, sign in again" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, state)
	}
}

func TestHandlersPhoto(t *testing.T) {
	photos := &fakePhotos{}
	app, _, _ := newTestApp(t, &fakePasswords{}, photos)

	resp, err := app.Test(photoRequest(t, []byte("jpeg-bytes"), "image/jpeg"), 3000)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected upload response %v %v", resp, err)
	}
	if len(photos.keys) != 1 {
		t.Fatalf("expected one upload")
	}

	resp, _ = app.Test(photoRequest(t, bytes.Repeat([]byte("x"), 2048), "image/jpeg"), 3000)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected too large, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(photoRequest(t, []byte("%PDF"), "application/pdf"), 3000)
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected unsupported media type, got %d", resp.StatusCode)
	}

	dresp, state := doJSON(t, app, http.MethodDelete, "/profile/photo", "")
	if dresp.StatusCode != http.StatusOK || state.Message != "photo removed" {
		t.Fatalf("unexpected response %d %+v", dresp.StatusCode, state)
	}
}

func TestHandlersAccountLookupFailure(t *testing.T) {
	hub := stream.NewHub(nil)
	svc := NewService(newMemProfiles(hub), &fakePasswords{}, &fakePhotos{}, fakeAccounts{err: errors.New("db down")}, hub)
	defer svc.Close()

	app := fiber.New()
	RegisterRoutes(app.Group("/profile"), svc, asUser("user-1", time.Now()), 0)

	resp, _ := doJSON(t, app, http.MethodGet, "/profile", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
