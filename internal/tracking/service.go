package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"backend-locshare/internal/location"
	"backend-locshare/internal/presence"
	"backend-locshare/internal/shared/registry"
	"backend-locshare/internal/stream"
)

const (
	trackerStartTimeout = 5 * time.Second
	minSweepInterval    = time.Second
)

// Repository adds the read-only queries the HTTP layer needs on top of Store.
type Repository interface {
	Store
	TrackPoints(ctx context.Context, uid string, limit int) ([]presence.TrackPoint, error)
	OnlineUsers(ctx context.Context, limit int) ([]presence.OnlineUser, error)
}

// Locator is the device side of the location provider.
type Locator interface {
	FixSource
	Push(uid string, fix location.Fix) (location.Fix, error)
	Current(ctx context.Context, uid string) (location.Fix, error)
}

// Service owns one Tracker per signed-in user and publishes every tracker
// state change on the user's tracker topic.
type Service struct {
	store    Repository
	locator  Locator
	hub      *stream.Hub
	opts     Options
	trackers *registry.Registry[*Tracker]

	mu       sync.Mutex
	lastUsed map[string]time.Time

	stop      chan struct{}
	stopOnce  sync.Once
	sweepDone sync.WaitGroup
}

func NewService(store Repository, locator Locator, hub *stream.Hub, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		store:    store,
		locator:  locator,
		hub:      hub,
		opts:     opts,
		lastUsed: map[string]time.Time{},
		stop:     make(chan struct{}),
	}
	s.trackers = registry.New(s.newTracker)

	if opts.IdleTimeout > 0 {
		s.sweepDone.Add(1)
		go s.sweep()
	}
	return s
}

func (s *Service) sweep() {
	defer s.sweepDone.Done()

	interval := s.opts.IdleTimeout / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.CloseIdle()
		}
	}
}

// CloseIdle closes trackers that are offline, not consuming fixes and not
// requested for at least IdleTimeout. It returns how many were closed.
func (s *Service) CloseIdle() int {
	if s.opts.IdleTimeout <= 0 {
		return 0
	}
	now := s.opts.Now()

	s.mu.Lock()
	var stale []string
	for uid, at := range s.lastUsed {
		if now.Sub(at) >= s.opts.IdleTimeout {
			stale = append(stale, uid)
		}
	}
	s.mu.Unlock()

	closed := 0
	for _, uid := range stale {
		t, ok := s.trackers.Lookup(uid)
		if ok && (t.Snapshot().Online || t.Tracking()) {
			continue
		}

		s.mu.Lock()
		at, seen := s.lastUsed[uid]
		still := seen && now.Sub(at) >= s.opts.IdleTimeout
		if still {
			delete(s.lastUsed, uid)
		}
		s.mu.Unlock()
		if !still {
			continue
		}

		if s.trackers.Close(uid) {
			closed++
		}
	}
	return closed
}

func (s *Service) touch(uid string) {
	s.mu.Lock()
	s.lastUsed[uid] = s.opts.Now()
	s.mu.Unlock()
}

func (s *Service) newTracker(uid string) (*Tracker, error) {
	opts := s.opts
	opts.Notify = func(state State) { s.publish(uid, state) }

	t := NewTracker(uid, s.store, s.locator, opts)
	ctx, cancel := context.WithTimeout(context.Background(), trackerStartTimeout)
	defer cancel()
	if err := t.Start(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (s *Service) publish(uid string, state State) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.hub.Broadcast(stream.TrackerTopic(uid), payload)
}

// Tracker returns the user's tracker, starting it on first use.
func (s *Service) Tracker(uid string) (*Tracker, error) {
	s.touch(uid)
	return s.trackers.Get(uid)
}

func (s *Service) State(uid string) (State, error) {
	t, err := s.Tracker(uid)
	if err != nil {
		return State{}, err
	}
	return t.Snapshot(), nil
}

// SetOnline turning on also starts location updates; turning off stops them.
func (s *Service) SetOnline(ctx context.Context, uid string, online bool) (State, error) {
	t, err := s.Tracker(uid)
	if err != nil {
		return State{}, err
	}
	if online {
		err = t.EnableOnlineAndStartUpdates(ctx)
	} else {
		err = t.SetOnline(ctx, false)
	}
	return t.Snapshot(), err
}

func (s *Service) PushFix(uid string, fix location.Fix) (location.Fix, error) {
	return s.locator.Push(uid, fix)
}

func (s *Service) CurrentFix(ctx context.Context, uid string) (location.Fix, error) {
	return s.locator.Current(ctx, uid)
}

// OnlineUsers lists everyone online with known coordinates except uid.
func (s *Service) OnlineUsers(ctx context.Context, uid string) ([]presence.OnlineUser, error) {
	limit := s.opts.OnlineUsersLimit
	if limit <= 0 {
		limit = 100
	}
	users, err := s.store.OnlineUsers(ctx, limit)
	if err != nil {
		return nil, err
	}
	others := make([]presence.OnlineUser, 0, len(users))
	for _, u := range users {
		if u.UID != uid {
			others = append(others, u)
		}
	}
	return others, nil
}

func (s *Service) Points(ctx context.Context, uid string, limit int) ([]presence.TrackPoint, error) {
	return s.store.TrackPoints(ctx, uid, limit)
}

// CloseSession releases the user's tracker; the next request starts a new one.
func (s *Service) CloseSession(uid string) bool {
	s.mu.Lock()
	delete(s.lastUsed, uid)
	s.mu.Unlock()
	return s.trackers.Close(uid)
}

func (s *Service) Sessions() int {
	return s.trackers.Len()
}

func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.sweepDone.Wait()
	s.trackers.CloseAll()
}
