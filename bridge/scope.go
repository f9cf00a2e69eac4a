package bridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/vbridge/errors"
)

// Scope bounds the lifetime of BorrowedScoped handles. Values wrapped
// through a scope are reachable from scripts only until Close; afterwards
// every access through their handles fails with an expired error, even if
// the runtime still holds the wrapper.
type Scope struct {
	reg     *Registry
	handles map[*Handle]struct{}
	// mu is read-held by every call resolving a handle of this scope, so
	// Close waits for in-flight calls.
	mu     sync.RWMutex
	closed bool
}

// Scope opens a scope on the registry. The caller must Close it.
func (r *Registry) Scope() *Scope {
	return &Scope{
		reg:     r,
		handles: make(map[*Handle]struct{}),
	}
}

// WithScope runs fn with a fresh scope and closes it when fn returns.
func (r *Registry) WithScope(fn func(*Scope) error) error {
	s := r.Scope()
	defer s.Close()
	return fn(s)
}

// Wrap exposes value as a BorrowedScoped handle of type tag. The value is
// not copied; the host must not free it before the scope closes.
func (s *Scope) Wrap(tag string, value any) (*Ref, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Expired(tag, "scope closed")
	}
	s.mu.Unlock()

	table, typeID, err := s.reg.lookupType(tag)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		reg:   s.reg,
		table: table,
		tag:   tag,
		mode:  BorrowedScoped,
		scope: s,
		value: value,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Expired(tag, "scope closed")
	}
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	ref, err := s.reg.insert(typeID, h)
	if err != nil {
		s.untrack(h)
		return nil, err
	}
	return ref, nil
}

// Closed reports whether the scope has been closed.
func (s *Scope) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Len returns the number of live handles wrapped through the scope.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Close revokes every handle wrapped through the scope. It waits for calls
// currently resolving through the scope. Close is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	revoked := len(s.handles)
	for h := range s.handles {
		h.value = nil
	}
	s.mu.Unlock()

	if revoked > 0 {
		s.reg.log.Debug("scope closed", zap.Int("revoked", revoked))
	}
}

func (s *Scope) untrack(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// enter read-locks the scope for the duration of a call.
func (s *Scope) enter(tag string) (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.Expired(tag, "scope closed")
	}
	return s.mu.RUnlock, nil
}
