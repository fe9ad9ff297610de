package summary

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/victormasson21/voice-agent/internal/record"
)

// Summarizer produces a session record from a transcript in one attempt and
// names the record to persist when every attempt fails.
type Summarizer interface {
	Summarize(ctx context.Context, turns []record.Turn, aux string) (record.Record, error)
	Fallback() record.Record
}

// ErrNoBackend is returned by Route for a name nothing is registered under.
var ErrNoBackend = errors.New("summary: no backend")

// Router maps flow names to backends. A flow's record kind is fixed, so an
// unknown name is an error rather than a silent switch to another backend.
type Router[T any] struct {
	backends map[string]T
}

// NewRouter returns a router over backends keyed by flow name.
func NewRouter[T any](backends map[string]T) *Router[T] {
	return &Router[T]{backends: backends}
}

// Route returns the backend registered for name.
func (r *Router[T]) Route(name string) (T, error) {
	if backend, ok := r.backends[name]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("%w for %q", ErrNoBackend, name)
}

// Has reports whether a backend is registered for name.
func (r *Router[T]) Has(name string) bool {
	_, ok := r.backends[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Router[T]) Names() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
