package auth

import (
	"context"
	"sync"

	"github.com/bugtrail/bugtrail/internal/rbac"
)

// Bus fans auth-state-change events out to subscribers. Publishes never block:
// a subscriber that stops draining loses events rather than stalling the auth
// handler, so a slow consumer can never re-enter or deadlock the sign-in path.
type Bus struct {
	mu   sync.Mutex
	subs map[int]busSub
	next int
}

type busSub struct {
	ch     chan rbac.AuthEvent
	userID string
}

// NewBus constructs an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]busSub)}
}

// Subscribe registers for all auth events. The returned function removes the
// subscription; calling it more than once is safe.
func (b *Bus) Subscribe() (<-chan rbac.AuthEvent, func()) {
	return b.subscribe("")
}

// SubscribeUser registers for events concerning a single user.
func (b *Bus) SubscribeUser(userID string) (<-chan rbac.AuthEvent, func()) {
	return b.subscribe(userID)
}

func (b *Bus) subscribe(userID string) (<-chan rbac.AuthEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan rbac.AuthEvent, 8)
	b.subs[id] = busSub{ch: ch, userID: userID}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(ev rbac.AuthEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.userID != "" && (ev.Session == nil || ev.Session.User.ID != sub.userID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// ResolverSource adapts one user's session plus the bus into the session
// source consumed by rbac.Resolver. Used by long-lived consumers such as chat
// connections that need to react to sign-out.
type ResolverSource struct {
	bus     *Bus
	session *rbac.Session
}

// NewResolverSource builds a source bound to an established session.
func NewResolverSource(bus *Bus, session *rbac.Session) *ResolverSource {
	return &ResolverSource{bus: bus, session: session}
}

// CurrentSession returns the bound session.
func (s *ResolverSource) CurrentSession(ctx context.Context) (*rbac.Session, error) {
	return s.session, nil
}

// Subscribe follows auth events for the bound session's user.
func (s *ResolverSource) Subscribe() (<-chan rbac.AuthEvent, func()) {
	if s.session == nil {
		return s.bus.Subscribe()
	}
	return s.bus.SubscribeUser(s.session.User.ID)
}
