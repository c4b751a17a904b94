// Package sessionstate is the client-held cache of the signed-in user.
// It initializes from the session endpoint, stays live on the
// provider's push events and periodically re-validates the session in
// the background. It owns only the User projection, never the tokens.
package sessionstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nimbleslab/chatgate/pkg/idp"
	"github.com/nimbleslab/chatgate/pkg/user"
)

// State is what the UI reads. IsInitialized flips to true exactly once
// per lifecycle, either through a successful session fetch or through
// an explicit no-session determination; the UI shows a loading
// affordance until then.
type State struct {
	User            *user.User `json:"user"`
	IsAuthenticated bool       `json:"is_authenticated"`
	IsInitialized   bool       `json:"is_initialized"`
}

// Resolver fetches the authoritative user from the session endpoint.
type Resolver func(ctx context.Context) (*user.User, error)

// Refresher re-validates the session; an error means the session is
// dead and the store signs itself out.
type Refresher func(ctx context.Context) error

// EventSource is the slice of idp.Client the store needs.
type EventSource interface {
	OnAuthStateChange(fn idp.Listener) func()
}

const DefaultRefreshInterval = 15 * time.Minute

type Options struct {
	Resolver        Resolver
	Refresher       Refresher
	Source          EventSource
	Cache           Cache
	RefreshInterval time.Duration
}

// Store serializes every transition under one mutex and stamps each
// terminal transition with an epoch. An in-flight initialization or
// re-resolution only applies if no newer transition has landed in the
// meantime, so updates take effect in event order, not completion
// order.
type Store struct {
	mu    sync.Mutex
	state State
	epoch uint64

	opts        Options
	subscribers map[int]func(State)
	nextSub     int

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

func New(opts Options) *Store {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	s := &Store{
		opts:        opts,
		subscribers: map[int]func(State){},
		done:        make(chan struct{}),
	}

	if opts.Source != nil {
		s.unsubscribe = opts.Source.OnAuthStateChange(s.onAuthStateChange)
	}

	return s
}

func (s *Store) onAuthStateChange(event idp.Event, session *idp.Session) {
	switch event {
	case idp.EventSignedIn, idp.EventUserUpdated, idp.EventPasswordRecovery:
		// A recovery session is signed in just far enough to set a
		// new password.
		if session != nil && session.User != nil {
			s.SetUser(session.User)
		}
	case idp.EventSignedOut:
		s.ClearUser()
	}
}

// Init runs the initialization protocol: restore the persisted state
// optimistically, then fetch the authoritative user and settle. The
// store always ends up initialized, whatever the fetch does. It also
// starts the background refresh loop, stopped by Close.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	if s.opts.Cache != nil && !s.state.IsInitialized {
		if cached, ok := s.opts.Cache.Load(); ok && cached.IsInitialized && cached.User != nil {
			// Optimistic: show the cached user while re-validation
			// runs. Not a terminal transition, IsInitialized stays
			// false and the epoch does not move.
			s.state.User = cached.User
			s.state.IsAuthenticated = true
		}
	}
	start := s.epoch
	s.mu.Unlock()
	s.notify()

	var resolved *user.User
	if s.opts.Resolver != nil {
		u, err := s.opts.Resolver(ctx)
		if err != nil {
			slog.Warn("session initialization failed, treating as signed out", "error", err)
		} else {
			resolved = u
		}
	}

	s.mu.Lock()
	if s.epoch != start {
		// A terminal transition (e.g. SIGNED_OUT) landed while the
		// fetch was in flight; the later event wins.
		s.mu.Unlock()
	} else if resolved != nil {
		s.setLocked(resolved)
	} else {
		s.clearLocked()
	}

	go s.refreshLoop()
}

// SetUser records an authenticated user. This is a terminal
// transition: it marks the store initialized and supersedes any
// in-flight initialization.
func (s *Store) SetUser(u *user.User) {
	if u == nil {
		s.ClearUser()
		return
	}
	s.mu.Lock()
	s.setLocked(u)
}

// ClearUser records the signed-out state, also a terminal transition.
// Clearing an already clear store is harmless.
func (s *Store) ClearUser() {
	s.mu.Lock()
	s.clearLocked()
}

// setLocked and clearLocked consume the held lock and notify
// subscribers after releasing it.

func (s *Store) setLocked(u *user.User) {
	s.epoch++
	s.state = State{User: u, IsAuthenticated: true, IsInitialized: true}
	if s.opts.Cache != nil {
		s.opts.Cache.Store(s.state)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) clearLocked() {
	s.epoch++
	s.state = State{IsInitialized: true}
	if s.opts.Cache != nil {
		s.opts.Cache.Clear()
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener called with each settled state. The
// returned function unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	state := s.state
	fns := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// refreshLoop re-validates the session on a fixed interval while a
// user is present. A failed refresh is a forced sign-out, not a retry
// loop: it bounds how long this client can act authenticated against a
// dead session.
func (s *Store) refreshLoop() {
	if s.opts.Refresher == nil {
		return
	}

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.Snapshot().IsAuthenticated {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := s.opts.Refresher(ctx)
			cancel()
			if err != nil {
				slog.Info("background session refresh failed, signing out", "error", err)
				s.ClearUser()
			}
		}
	}
}

// Close stops the refresh loop and detaches from the event stream.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}
