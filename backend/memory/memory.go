// Package memory provides an in-memory ObjectStore fake modeled on
// friggdb/backend/local/local.go: a complete, minimal implementation of the capability
// interface, useful for unit tests and local development rather than production storage.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/thill/klstore/backend"
)

type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) PutIfAbsent(_ context.Context, name string, body []byte) (backend.PutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[name]; ok {
		return backend.AlreadyExists, nil
	}
	s.objects[name] = append([]byte(nil), body...)
	return backend.Created, nil
}

func (s *Store) Put(_ context.Context, name string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[name] = append([]byte(nil), body...)
	return nil
}

func (s *Store) Get(_ context.Context, name string, r *backend.ByteRange) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.objects[name]
	if !ok {
		return nil, backend.ErrNotFound
	}
	if r == nil {
		return append([]byte(nil), body...), nil
	}

	start := r.Start
	end := r.End
	if end < 0 || end >= int64(len(body)) {
		end = int64(len(body)) - 1
	}
	if start < 0 || start > end {
		return nil, nil
	}
	return append([]byte(nil), body[start:end+1]...), nil
}

func (s *Store) List(_ context.Context, prefix string, opts backend.ListOptions) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	sort.Strings(names)

	if !opts.Reverse {
		// Forward: names strictly greater than StartAfter, ascending.
		if opts.StartAfter != "" {
			i := sort.SearchStrings(names, opts.StartAfter)
			if i < len(names) && names[i] == opts.StartAfter {
				i++
			}
			names = names[i:]
		}
	} else {
		// Reverse is synthesized client-side (§4.2): names strictly less than
		// StartAfter (or all names, if none given), walked in descending order —
		// this is what lets the tail-bootstrap LIST in §4.4 step backward from a
		// sentinel "last possible name for key" without a native reverse-paginated
		// S3 call.
		end := len(names)
		if opts.StartAfter != "" {
			end = sort.SearchStrings(names, opts.StartAfter)
		}
		names = names[:end]
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	if opts.Limit > 0 && len(names) > opts.Limit {
		names = names[:opts.Limit]
	}

	return names, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, name)
	return nil
}
