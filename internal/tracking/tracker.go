package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-locshare/internal/location"
	"backend-locshare/internal/presence"
	"backend-locshare/internal/shared/geo"
	"backend-locshare/internal/stream"
)

var ErrClosed = errors.New("tracker closed")

// Store is the presence storage a Tracker reads and writes.
type Store interface {
	SetOnline(ctx context.Context, uid string, online bool) error
	SetLatLng(ctx context.Context, uid string, p geo.Point) error
	AppendTrackPoint(ctx context.Context, uid string, p geo.Point, recordedAt time.Time) (presence.TrackPoint, error)
	WatchOnline(ctx context.Context, uid string) *stream.Subscription[bool]
	WatchLatLng(ctx context.Context, uid string) *stream.Subscription[*geo.Point]
	WatchOnlineUsers(ctx context.Context, limit int) *stream.Subscription[[]presence.OnlineUser]
}

// FixSource streams device fixes for a user.
type FixSource interface {
	Updates(ctx context.Context, uid string) (*stream.Subscription[location.Fix], error)
}

// State is what the tracking screen renders.
type State struct {
	Loading     bool                  `json:"loading"`
	Online      bool                  `json:"online"`
	Error       string                `json:"error,omitempty"`
	Current     *geo.Point            `json:"current,omitempty"`
	Path        []geo.Point           `json:"path"`
	OnlineUsers []presence.OnlineUser `json:"online_users"`
}

type Options struct {
	Filter           PathFilter
	OnlineUsersLimit int
	Logger           *slog.Logger
	// Notify receives a copy of the state after every change.
	Notify func(State)
	Now    func() time.Time
	// IdleTimeout is read by Service only. Offline trackers nobody asked for
	// during this long are closed; zero keeps them until sign-out.
	IdleTimeout time.Duration
}

// Tracker is the per-user tracking state-holder. It mirrors the user's
// online flag, coordinates and the other online users, and while tracking
// it feeds device fixes through the path filter.
type Tracker struct {
	uid    string
	store  Store
	source FixSource
	filter PathFilter
	limit  int
	log    *slog.Logger
	notify func(State)
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	lastAppend time.Time
	stopFixes  context.CancelFunc
	startOnce  sync.Once
	ready      chan struct{}
}

func NewTracker(uid string, store Store, source FixSource, opts Options) *Tracker {
	if opts.Filter.MinInterval <= 0 {
		opts.Filter.MinInterval = DefaultMinInterval
	}
	if opts.Filter.MinDistanceM <= 0 {
		opts.Filter.MinDistanceM = DefaultMinDistanceM
	}
	if opts.OnlineUsersLimit <= 0 {
		opts.OnlineUsersLimit = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notify == nil {
		opts.Notify = func(State) {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		uid:    uid,
		store:  store,
		source: source,
		filter: opts.Filter,
		limit:  opts.OnlineUsersLimit,
		log:    opts.Logger.With("component", "tracker", "user_id", uid),
		notify: opts.Notify,
		now:    opts.Now,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		state: State{
			Path:        []geo.Point{},
			OnlineUsers: []presence.OnlineUser{},
		},
	}
}

// Start subscribes to the online flag, the coordinates and the online
// users. It returns once the first online value arrived, the online
// subscription failed, or ctx is done.
func (t *Tracker) Start(ctx context.Context) error {
	t.startOnce.Do(func() {
		var readyOnce sync.Once
		markReady := func() { readyOnce.Do(func() { close(t.ready) }) }

		watch(t, t.store.WatchOnline(t.ctx, t.uid), "online status", func(v bool) {
			t.onOnline(v)
			markReady()
		}, markReady)
		watch(t, t.store.WatchLatLng(t.ctx, t.uid), "location", t.onLatLng, nil)
		watch(t, t.store.WatchOnlineUsers(t.ctx, t.limit), "online users", t.onOnlineUsers, nil)
	})

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func watch[T any](t *Tracker, sub *stream.Subscription[T], what string, onValue func(T), onEnd func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer sub.Close()
		if onEnd != nil {
			defer onEnd()
		}

		for v := range sub.Values() {
			onValue(v)
		}
		if err := sub.Err(); err != nil {
			t.log.Error("subscription ended", "stream", what, "error", err)
			t.update(func(s *State) {
				s.Error = fmt.Sprintf("error reading %s: %v", what, err)
			})
		}
	}()
}

func (t *Tracker) onOnline(online bool) {
	t.update(func(s *State) {
		s.Online = online
		if !online {
			t.stopFixesLocked()
		}
	})
}

func (t *Tracker) onLatLng(p *geo.Point) {
	t.update(func(s *State) { s.Current = p })
}

func (t *Tracker) onOnlineUsers(users []presence.OnlineUser) {
	others := make([]presence.OnlineUser, 0, len(users))
	for _, u := range users {
		if u.UID != t.uid {
			others = append(others, u)
		}
	}
	t.update(func(s *State) { s.OnlineUsers = others })
}

// SetOnline writes the online flag. Going offline stops location updates
// and clears the path right away.
func (t *Tracker) SetOnline(ctx context.Context, online bool) error {
	t.update(func(s *State) { s.Loading = true })

	err := t.store.SetOnline(ctx, t.uid, online)
	t.update(func(s *State) {
		s.Loading = false
		if err != nil {
			s.Error = err.Error()
			return
		}
		s.Online = online
		if !online {
			t.stopFixesLocked()
		}
	})
	return err
}

// EnableOnlineAndStartUpdates marks the user online and starts consuming
// fixes. On failure the online flag is written back to false.
func (t *Tracker) EnableOnlineAndStartUpdates(ctx context.Context) error {
	t.update(func(s *State) {
		s.Loading = true
		s.Error = ""
	})

	if err := t.store.SetOnline(ctx, t.uid, true); err != nil {
		return t.abortStart(ctx, err)
	}
	t.update(func(s *State) { s.Online = true })

	if err := t.startFixes(); err != nil {
		return t.abortStart(ctx, err)
	}
	t.update(func(s *State) { s.Loading = false })
	t.log.Info("tracking started")
	return nil
}

func (t *Tracker) abortStart(ctx context.Context, cause error) error {
	if err := t.SetOnline(ctx, false); err != nil {
		t.log.Error("reset online flag failed", "error", err)
	}
	t.update(func(s *State) {
		s.Loading = false
		s.Error = "could not start tracking: " + cause.Error()
	})
	return fmt.Errorf("could not start tracking: %w", cause)
}

func (t *Tracker) startFixes() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return ErrClosed
	}
	if t.stopFixes != nil {
		t.stopFixes()
		t.stopFixes = nil
	}

	ctx, cancel := context.WithCancel(t.ctx)
	sub, err := t.source.Updates(ctx, t.uid)
	if err != nil {
		cancel()
		return err
	}
	t.stopFixes = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer sub.Close()

		for fix := range sub.Values() {
			t.handleFix(ctx, fix)
		}
		if err := sub.Err(); err != nil {
			t.log.Error("location updates failed", "error", err)
			t.update(func(s *State) { s.Error = "location error: " + err.Error() })
		}
	}()
	return nil
}

// stopFixesLocked must be called with t.mu held.
func (t *Tracker) stopFixesLocked() {
	if t.stopFixes != nil {
		t.stopFixes()
		t.stopFixes = nil
		t.log.Info("tracking stopped")
	}
	t.state.Path = []geo.Point{}
	t.lastAppend = time.Time{}
}

func (t *Tracker) handleFix(ctx context.Context, fix location.Fix) {
	p := fix.Point()
	if err := t.store.SetLatLng(ctx, t.uid, p); err != nil {
		t.log.Warn("write coordinates failed", "error", err)
	}

	// The filter runs on the server clock. The device time is only stored,
	// and never later than the arrival time.
	at := t.now()
	recordedAt := fix.RecordedAt
	if recordedAt.IsZero() || recordedAt.After(at) {
		recordedAt = at
	}

	t.mu.Lock()
	admit := ctx.Err() == nil && t.filter.Admit(t.state.Path, t.lastAppend, p, at)
	t.mu.Unlock()
	if !admit {
		return
	}

	if _, err := t.store.AppendTrackPoint(ctx, t.uid, p, recordedAt); err != nil {
		t.log.Warn("append track point failed", "error", err)
		return
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.state.Path = append(t.state.Path, p)
	t.lastAppend = at
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
}

func (t *Tracker) update(fn func(s *State)) {
	t.mu.Lock()
	fn(&t.state)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() State {
	s := t.state
	s.Path = append(make([]geo.Point, 0, len(t.state.Path)), t.state.Path...)
	s.OnlineUsers = append(make([]presence.OnlineUser, 0, len(t.state.OnlineUsers)), t.state.OnlineUsers...)
	if t.state.Current != nil {
		current := *t.state.Current
		s.Current = &current
	}
	return s
}

// Tracking reports whether device fixes are being consumed.
func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopFixes != nil
}

// Close cancels every subscription and waits for them to stop.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.cancel()
	t.stopFixes = nil
	t.mu.Unlock()

	t.wg.Wait()
}
