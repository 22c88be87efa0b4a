// Package auth models the signed-in principal and session tokens.
package auth

import (
	"errors"
	"sync"
)

// ErrUnauthenticated is returned by operations that require a signed-in
// principal.
var ErrUnauthenticated = errors.New("you must be signed in")

// Principal is the authenticated user as reported by the auth provider.
type Principal struct {
	ID          string
	DisplayName string
	Email       string
}

// Provider reports the current principal and notifies on auth state changes.
type Provider interface {
	Current() (Principal, bool)
	// OnChange registers a callback fired on every sign-in and sign-out.
	// The returned function cancels the registration.
	OnChange(fn func(p *Principal)) func()
}

// Session is the in-process auth state for the single signed-in device.
type Session struct {
	mu        sync.Mutex
	principal *Principal
	nextID    int
	listeners map[int]func(p *Principal)
}

// NewSession returns a signed-out session.
func NewSession() *Session {
	return &Session{listeners: map[int]func(p *Principal){}}
}

func (s *Session) Current() (Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

func (s *Session) OnChange(fn func(p *Principal)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// SignIn sets the current principal and notifies listeners.
func (s *Session) SignIn(p Principal) {
	s.mu.Lock()
	s.principal = &p
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(&p)
	}
}

// SignOut clears the current principal and notifies listeners.
func (s *Session) SignOut() {
	s.mu.Lock()
	s.principal = nil
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
}

func (s *Session) snapshotListeners() []func(p *Principal) {
	fns := make([]func(p *Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
