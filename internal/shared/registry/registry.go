package registry

import "sync"

type Closer interface {
	Close()
}

// Registry keeps one long-lived value per key, typically one state-holder
// per signed-in user.
type Registry[T Closer] struct {
	mu     sync.Mutex
	items  map[string]T
	create func(key string) (T, error)
}

func New[T Closer](create func(key string) (T, error)) *Registry[T] {
	return &Registry[T]{
		items:  map[string]T{},
		create: create,
	}
}

// Get returns the value for key, creating it on first use. create runs
// without the lock held; if two callers race, the loser's value is closed.
func (r *Registry[T]) Get(key string) (T, error) {
	r.mu.Lock()
	if item, ok := r.items[key]; ok {
		r.mu.Unlock()
		return item, nil
	}
	r.mu.Unlock()

	created, err := r.create(key)
	if err != nil {
		var zero T
		return zero, err
	}

	r.mu.Lock()
	if existing, ok := r.items[key]; ok {
		r.mu.Unlock()
		created.Close()
		return existing, nil
	}
	r.items[key] = created
	r.mu.Unlock()
	return created, nil
}

func (r *Registry[T]) Lookup(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[key]
	return item, ok
}

// Close removes and closes the value for key, if any.
func (r *Registry[T]) Close(key string) bool {
	r.mu.Lock()
	item, ok := r.items[key]
	delete(r.items, key)
	r.mu.Unlock()

	if ok {
		item.Close()
	}
	return ok
}

func (r *Registry[T]) CloseAll() {
	r.mu.Lock()
	items := r.items
	r.items = map[string]T{}
	r.mu.Unlock()

	for _, item := range items {
		item.Close()
	}
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
