package stream

import (
	"context"
	"errors"
)

// ErrHubUnavailable is returned when a stream is requested without a hub.
var ErrHubUnavailable = errors.New("stream hub unavailable")

// Subscription is a push stream of values produced by a background
// goroutine. Values is closed when the producer stops; Err then reports why.
type Subscription[T any] struct {
	values chan T
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Produce runs produce in its own goroutine. emit blocks until the value is
// taken or the subscription is closed, and returns false once closed.
func Produce[T any](ctx context.Context, produce func(ctx context.Context, emit func(T) bool) error) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		values: make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.values)
		defer cancel()

		emit := func(v T) bool {
			select {
			case s.values <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil && ctx.Err() == nil {
			s.err = err
		}
	}()
	return s
}

// Failed returns a subscription that ends immediately with err.
func Failed[T any](err error) *Subscription[T] {
	return Produce(context.Background(), func(context.Context, func(T) bool) error { return err })
}

func (s *Subscription[T]) Values() <-chan T {
	return s.values
}

// Err blocks until the producer has stopped. It is nil when the
// subscription ended through cancellation.
func (s *Subscription[T]) Err() error {
	<-s.done
	return s.err
}

// Close cancels the producer and waits for it to stop.
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Watch emits load's result once, then again every time topic receives a
// message. Bursts of messages collapse into a single reload. A load error
// ends the subscription with that error.
func Watch[T any](ctx context.Context, hub *Hub, topic string, load func(context.Context) (T, error)) *Subscription[T] {
	if hub == nil {
		return Failed[T](ErrHubUnavailable)
	}
	return Produce(ctx, func(ctx context.Context, emit func(T) bool) error {
		client := hub.Register(topic)
		defer hub.Unregister(client)

		for {
			v, err := load(ctx)
			if err != nil {
				return err
			}
			if !emit(v) {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-client.Send:
				if !ok {
					return nil
				}
			}
			if !drain(client.Send) {
				return nil
			}
		}
	})
}

func drain(ch <-chan []byte) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
