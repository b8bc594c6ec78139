package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-locshare/internal/auth"
	"backend-locshare/internal/stream"
)

const (
	msgProfileUpdated  = "profile updated"
	msgPasswordUpdated = "password updated"
	msgPhotoUpdated    = "photo updated"
	msgPhotoRemoved    = "photo removed"
	msgSignInAgain     = "this operation is sensitive, sign in again"
)

// Store is the profile storage an Editor works against.
type Store interface {
	UpdateNamePhone(ctx context.Context, uid, name, phone string) error
	UpdatePhotoURL(ctx context.Context, uid, url string) error
	Watch(ctx context.Context, uid string) *stream.Subscription[*Profile]
}

type PasswordChanger interface {
	ChangePassword(ctx context.Context, uid, password string, authTime time.Time) error
}

// PhotoStore uploads a blob and returns its retrieval URL.
type PhotoStore interface {
	PutObject(ctx context.Context, key, userID, contentType string, data []byte) (string, error)
}

type State struct {
	Profile *Profile `json:"profile"`
	Saving  bool     `json:"saving"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Editor is the per-user profile state-holder.
type Editor struct {
	uid       string
	email     string
	store     Store
	passwords PasswordChanger
	photos    PhotoStore
	log       *slog.Logger
	notify    func(State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	startOnce sync.Once
	ready     chan struct{}
}

// NewEditor builds an editor for uid. email is the account email, which
// always wins over the one stored in the profile.
func NewEditor(uid, email string, store Store, passwords PasswordChanger, photos PhotoStore, notify func(State)) *Editor {
	if notify == nil {
		notify = func(State) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Editor{
		uid:       uid,
		email:     email,
		store:     store,
		passwords: passwords,
		photos:    photos,
		log:       slog.Default().With("component", "profile_editor", "user_id", uid),
		notify:    notify,
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
	}
}

// Start follows the profile row. It returns after the first snapshot, a
// subscription failure, or when ctx is done.
func (e *Editor) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		sub := e.store.Watch(e.ctx, e.uid)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer sub.Close()
			defer e.markReady()

			for p := range sub.Values() {
				e.onProfile(p)
				e.markReady()
			}
			if err := sub.Err(); err != nil {
				e.log.Error("profile subscription ended", "error", err)
				e.update(func(s *State) { s.Error = err.Error() })
			}
		}()
	})

	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Editor) markReady() {
	select {
	case <-e.ready:
	default:
		close(e.ready)
	}
}

func (e *Editor) onProfile(p *Profile) {
	var profile Profile
	if p == nil {
		profile = Profile{UID: e.uid}
	} else {
		profile = *p
		profile.UID = e.uid
	}
	profile.Email = e.email
	e.update(func(s *State) { s.Profile = &profile })
}

func (e *Editor) Save(ctx context.Context, name, phone string) error {
	return e.run(func() (string, error) {
		return msgProfileUpdated, e.store.UpdateNamePhone(ctx, e.uid, name, phone)
	})
}

// ChangePassword checks length and confirmation before calling the account
// backend. authTime is when the caller last signed in with their password.
func (e *Editor) ChangePassword(ctx context.Context, password, confirm string, authTime time.Time) error {
	if err := ValidatePasswordChange(password, confirm); err != nil {
		e.update(func(s *State) { s.Error = err.Error() })
		return err
	}
	return e.run(func() (string, error) {
		err := e.passwords.ChangePassword(ctx, e.uid, password, authTime)
		if errors.Is(err, auth.ErrRecentLoginRequired) {
			return "", &messageError{msg: msgSignInAgain, err: err}
		}
		return msgPasswordUpdated, err
	})
}

// UpdatePhoto uploads the image, then records its URL on the profile. A
// failed URL write leaves the uploaded object in place.
func (e *Editor) UpdatePhoto(ctx context.Context, data []byte, contentType string) error {
	return e.run(func() (string, error) {
		key := PhotoKey(e.uid)
		url, err := e.photos.PutObject(ctx, key, e.uid, contentType, data)
		if err != nil {
			return "", err
		}
		if err := e.store.UpdatePhotoURL(ctx, e.uid, url); err != nil {
			e.log.Warn("photo uploaded but url not saved", "key", key, "error", err)
			return "", err
		}
		return msgPhotoUpdated, nil
	})
}

func (e *Editor) RemovePhoto(ctx context.Context) error {
	return e.run(func() (string, error) {
		return msgPhotoRemoved, e.store.UpdatePhotoURL(ctx, e.uid, "")
	})
}

func (e *Editor) ClearMessages() {
	e.update(func(s *State) {
		s.Error = ""
		s.Message = ""
	})
}

// run wraps a backend call with the saving flag and turns its outcome into
// the user-facing message or error.
func (e *Editor) run(op func() (string, error)) error {
	e.update(func(s *State) { s.Saving = true })

	msg, err := op()
	e.update(func(s *State) {
		s.Saving = false
		if err != nil {
			s.Error = err.Error()
			return
		}
		s.Message = msg
	})

	var me *messageError
	if errors.As(err, &me) {
		return me.err
	}
	return err
}

func (e *Editor) update(fn func(s *State)) {
	e.mu.Lock()
	fn(&e.state)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(snap)
}

func (e *Editor) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Editor) snapshotLocked() State {
	s := e.state
	if e.state.Profile != nil {
		p := *e.state.Profile
		s.Profile = &p
	}
	return s
}

func (e *Editor) Close() {
	e.cancel()
	e.wg.Wait()
}

// messageError replaces the text shown to the user while keeping the cause.
type messageError struct {
	msg string
	err error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.err }
