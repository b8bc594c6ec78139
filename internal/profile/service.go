package profile

import (
	"context"
	"encoding/json"
	"time"

	"backend-locshare/internal/shared/registry"
	"backend-locshare/internal/stream"
)

const editorStartTimeout = 5 * time.Second

// Accounts resolves the sign-in email of a user.
type Accounts interface {
	AccountEmail(ctx context.Context, uid string) (string, error)
}

// Service owns one Editor per signed-in user and publishes editor state on
// the user's profile topic.
type Service struct {
	store     Store
	passwords PasswordChanger
	photos    PhotoStore
	accounts  Accounts
	hub       *stream.Hub
	editors   *registry.Registry[*Editor]
}

func NewService(store Store, passwords PasswordChanger, photos PhotoStore, accounts Accounts, hub *stream.Hub) *Service {
	s := &Service{
		store:     store,
		passwords: passwords,
		photos:    photos,
		accounts:  accounts,
		hub:       hub,
	}
	s.editors = registry.New(s.newEditor)
	return s
}

func (s *Service) newEditor(uid string) (*Editor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), editorStartTimeout)
	defer cancel()

	email, err := s.accounts.AccountEmail(ctx, uid)
	if err != nil {
		return nil, err
	}

	e := NewEditor(uid, email, s.store, s.passwords, s.photos, func(state State) {
		s.publish(uid, state)
	})
	if err := e.Start(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (s *Service) publish(uid string, state State) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.hub.Broadcast(stream.ProfileTopic(uid), payload)
}

func (s *Service) Editor(uid string) (*Editor, error) {
	return s.editors.Get(uid)
}

func (s *Service) CloseSession(uid string) bool {
	return s.editors.Close(uid)
}

func (s *Service) Sessions() int {
	return s.editors.Len()
}

func (s *Service) Close() {
	s.editors.CloseAll()
}
