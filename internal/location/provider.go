package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-locshare/internal/shared/geo"
	"backend-locshare/internal/stream"
)

var currentFixTimeout = 5 * time.Second

var (
	ErrInvalidFix = errors.New("lat must be within [-90,90] and lng within [-180,180]")
	ErrTimeout    = errors.New("could not get the location (timeout)")
)

// Fix is one position sample reported by a device.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (f Fix) Point() geo.Point {
	return geo.Point{Lat: f.Lat, Lng: f.Lng}
}

// Provider relays fixes pushed by devices to whoever is listening for that
// user. Fixes pushed while nobody listens are dropped.
type Provider struct {
	hub *stream.Hub
	now func() time.Time
}

func NewProvider(hub *stream.Hub) *Provider {
	return &Provider{hub: hub, now: time.Now}
}

func (p *Provider) Push(uid string, fix Fix) (Fix, error) {
	if !fix.Point().Valid() {
		return Fix{}, ErrInvalidFix
	}
	if p.hub == nil {
		return Fix{}, stream.ErrHubUnavailable
	}
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = p.now()
	}
	payload, err := json.Marshal(fix)
	if err != nil {
		return Fix{}, err
	}
	p.hub.Broadcast(stream.DeviceTopic(uid), payload)
	return fix, nil
}

// Updates streams fixes until ctx is cancelled or the subscription closed.
func (p *Provider) Updates(ctx context.Context, uid string) (*stream.Subscription[Fix], error) {
	if p.hub == nil {
		return nil, stream.ErrHubUnavailable
	}
	client := p.hub.Register(stream.DeviceTopic(uid))
	return stream.Produce(ctx, func(ctx context.Context, emit func(Fix) bool) error {
		defer p.hub.Unregister(client)
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-client.Send:
				if !ok {
					return nil
				}
				var fix Fix
				if err := json.Unmarshal(msg, &fix); err != nil {
					return fmt.Errorf("decode fix: %w", err)
				}
				if !emit(fix) {
					return nil
				}
			}
		}
	}), nil
}

// Current waits for the next fix, giving up after five seconds.
func (p *Provider) Current(ctx context.Context, uid string) (Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, currentFixTimeout)
	defer cancel()

	sub, err := p.Updates(ctx, uid)
	if err != nil {
		return Fix{}, err
	}
	defer sub.Close()

	select {
	case fix, ok := <-sub.Values():
		if ok {
			return fix, nil
		}
		if err := sub.Err(); err != nil {
			return Fix{}, err
		}
		return Fix{}, ErrTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fix{}, ErrTimeout
		}
		return Fix{}, ctx.Err()
	}
}
