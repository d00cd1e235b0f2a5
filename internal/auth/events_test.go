package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bugtrail/bugtrail/internal/rbac"
)

func signedIn(userID string) rbac.AuthEvent {
	return rbac.AuthEvent{
		Kind:    rbac.AuthSignedIn,
		Session: &rbac.Session{Token: "tok", User: rbac.Identity{ID: userID}},
	}
}

func receiveEvent(t *testing.T, ch <-chan rbac.AuthEvent) rbac.AuthEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth event")
		return rbac.AuthEvent{}
	}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	a, stopA := bus.Subscribe()
	defer stopA()
	b, stopB := bus.Subscribe()
	defer stopB()

	bus.Publish(signedIn("u1"))

	require.Equal(t, rbac.AuthSignedIn, receiveEvent(t, a).Kind)
	require.Equal(t, rbac.AuthSignedIn, receiveEvent(t, b).Kind)
}

func TestBusUserFilter(t *testing.T) {
	bus := NewBus()

	mine, stopMine := bus.SubscribeUser("u1")
	defer stopMine()
	theirs, stopTheirs := bus.SubscribeUser("u2")
	defer stopTheirs()

	bus.Publish(signedIn("u1"))

	require.Equal(t, "u1", receiveEvent(t, mine).Session.User.ID)
	select {
	case ev := <-theirs:
		t.Fatalf("event leaked to wrong subscriber: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch, stop := bus.Subscribe()
	stop()
	stop()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(signedIn("u1"))
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()

	_, stop := bus.Subscribe()
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(signedIn("u1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on undrained subscriber")
	}
}

func TestResolverSource(t *testing.T) {
	bus := NewBus()
	sess := &rbac.Session{Token: "tok", User: rbac.Identity{ID: "u1", Name: "Ana"}}
	source := NewResolverSource(bus, sess)

	got, err := source.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, sess, got)

	events, stop := source.Subscribe()
	defer stop()

	// Only this user's events come through.
	bus.Publish(signedIn("other"))
	bus.Publish(signedIn("u1"))
	require.Equal(t, "u1", receiveEvent(t, events).Session.User.ID)
}
