package auth

import (
	"context"
	"sort"
	"sync"

	"github.com/aditya/campus-rides/internal/models"
)

// Session holds the identity of one client and tells listeners whenever it
// changes. Listeners run synchronously on the goroutine that caused the
// change, in registration order.
type Session struct {
	auth Service

	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]func(*Identity)
	nextID    uint64
	stopped   bool
}

func NewSession(auth Service) *Session {
	return &Session{auth: auth, listeners: make(map[uint64]func(*Identity))}
}

// Start restores a session from a previously issued token. An empty or
// invalid token leaves the session signed out.
func (s *Session) Start(ctx context.Context, token string) error {
	if token == "" {
		s.set(nil)
		return nil
	}
	id, err := s.auth.Verify(ctx, token)
	if err != nil {
		s.set(nil)
		return err
	}
	s.set(id)
	return nil
}

func (s *Session) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) SignUp(ctx context.Context, req *models.SignUpRequest) (*Identity, error) {
	id, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	s.set(id)
	return id, nil
}

func (s *Session) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.set(id)
	return id, nil
}

func (s *Session) SignInFederated(ctx context.Context, assertion string, roleHint models.Role) (*Identity, error) {
	id, err := s.auth.SignInFederated(ctx, assertion, roleHint)
	if err != nil {
		return nil, err
	}
	s.set(id)
	return id, nil
}

func (s *Session) SignOut(ctx context.Context) error {
	var err error
	if cur := s.Current(); cur != nil {
		err = s.auth.SignOut(ctx, cur.Token)
	}
	s.set(nil)
	return err
}

// OnIdentityChange registers fn, calls it right away with the current
// identity and again on every change. The returned func unregisters it.
func (s *Session) OnIdentityChange(fn func(*Identity)) (cancel func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Stop drops every listener. The identity itself is kept.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.listeners = make(map[uint64]func(*Identity))
}

func (s *Session) set(id *Identity) {
	s.mu.Lock()
	s.current = id
	ids := make([]uint64, 0, len(s.listeners))
	for k := range s.listeners {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(*Identity), 0, len(ids))
	for _, k := range ids {
		fns = append(fns, s.listeners[k])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}
