package events

import (
	"context"
	"time"
)

const (
	Exchange = "presence_topic"

	RoutingOnline   = "presence.online"
	RoutingLocation = "presence.location"
)

// Publisher sends domain events to downstream consumers. Delivery is best
// effort: callers log failures and carry on.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, msg any) error
	Close() error
}

type OnlineChanged struct {
	UserID string    `json:"user_id"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

type LocationChanged struct {
	UserID string    `json:"user_id"`
	Lat    float64   `json:"lat"`
	Lng    float64   `json:"lng"`
	At     time.Time `json:"at"`
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) PublishJSON(context.Context, string, any) error { return nil }
func (Nop) Close() error                                   { return nil }
