package idp

import "sync"

// Event is a push notification about a change of the provider-side
// auth state.
type Event string

const (
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// Listener receives auth state changes. The session is nil for
// EventSignedOut.
type Listener func(event Event, session *Session)

// Events fans auth state changes out to registered listeners.
// Listeners are invoked synchronously on the emitting goroutine, in
// registration order, so a sign-out emitted after a sign-in is also
// observed after it.
type Events struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewEvents() *Events {
	return &Events{listeners: map[int]Listener{}}
}

// OnAuthStateChange registers fn and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (e *Events) OnAuthStateChange(fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.order = append(e.order, id)

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Emit delivers the event to all current listeners.
func (e *Events) Emit(event Event, session *Session) {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners))
	for _, id := range e.order {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}
