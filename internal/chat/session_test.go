package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatd/internal/metrics"
)

// client runs a Session over a fakeConn until the test ends.
type client struct {
	*fakeConn
	session *Session
	done    chan struct{}
}

func connect(t *testing.T, ctx context.Context, room *Room) *client {
	t.Helper()
	c := newFakeConn("192.0.2.10")
	s := NewSession(c, room, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx)
	}()
	t.Cleanup(func() {
		c.Close()
		<-done
	})
	return &client{fakeConn: c, session: s, done: done}
}

func (c *client) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func newTestRoom() (*Room, *metrics.Collector) {
	m := metrics.New()
	return NewRoom(10, quietLogger(), m), m
}

func TestSession_Scenario(t *testing.T) {
	ctx := context.Background()
	room, m := newTestRoom()

	// A registers alice and sees an empty history.
	a := connect(t, ctx, room)
	a.expect(t, Welcome)
	a.say("login:alice")
	a.expect(t, "New user: alice")
	a.expectQuiet(t)

	// B tries the same name and is thrown out.
	b := connect(t, ctx, room)
	b.expect(t, Welcome)
	b.say("login:alice")
	b.expect(t, "Логин alice занят, попробуйте другой")
	b.waitDone(t)
	b.waitClosed(t)
	a.expectQuiet(t)

	// C registers and chats.
	c := connect(t, ctx, room)
	c.expect(t, Welcome)
	c.say("login:carol")
	a.expect(t, "New user: carol")
	c.expect(t, "New user: carol")
	c.say("hello")
	a.expect(t, "carol: hello")
	c.expect(t, "carol: hello")

	// D gets the notice followed by the single history line.
	d := connect(t, ctx, room)
	d.expect(t, Welcome)
	d.say("login:dave")
	d.expect(t, "New user: dave", "carol: hello")
	a.expect(t, "New user: dave")
	c.expect(t, "New user: dave")

	require.Equal(t, []string{"alice", "carol", "dave"}, room.Names())
	require.EqualValues(t, 1, m.NamesRejected())
	require.EqualValues(t, 3, m.Registrations())
	require.EqualValues(t, 1, m.MessagesRelayed())
}

func TestSession_InvalidLoginKeepsSession(t *testing.T) {
	room, m := newTestRoom()
	c := connect(t, context.Background(), room)
	c.expect(t, Welcome)

	for _, line := range []string{"hello", "login:", "LOGIN:bob", ""} {
		c.say(line)
		c.expect(t, InvalidLogin)
	}
	require.False(t, c.session.Registered())

	c.say("login:bob")
	c.expect(t, "New user: bob")
	require.EqualValues(t, 4, m.InvalidLogins())
}

func TestSession_UnregisteredReceivesBroadcasts(t *testing.T) {
	room, _ := newTestRoom()
	ctx := context.Background()

	lurker := connect(t, ctx, room)
	lurker.expect(t, Welcome)

	a := connect(t, ctx, room)
	a.expect(t, Welcome)
	a.say("login:alice")
	a.expect(t, "New user: alice")
	a.say("hi")
	a.expect(t, "alice: hi")

	lurker.expect(t, "New user: alice", "alice: hi")
}

func TestSession_CRLF(t *testing.T) {
	room, _ := newTestRoom()
	c := connect(t, context.Background(), room)
	c.expect(t, Welcome)

	c.say("login:alice\r")
	c.expect(t, "New user: alice")
	c.say("hi there\r")
	c.expect(t, "alice: hi there")
	require.Equal(t, []string{"alice"}, room.Names())
}

func TestSession_InvalidUTF8(t *testing.T) {
	room, _ := newTestRoom()
	c := connect(t, context.Background(), room)
	c.expect(t, Welcome)

	// Before login it is just another bad login line.
	c.in <- []byte("login:\xff\xfe")
	c.expect(t, InvalidLogin)

	c.say("login:alice")
	c.expect(t, "New user: alice")

	// After login the line is dropped and the session carries on.
	c.in <- []byte("bad \xc3\x28 bytes")
	c.expectQuiet(t)
	c.say("ok")
	c.expect(t, "alice: ok")
	require.Equal(t, []string{"alice: ok"}, room.History())
}

func TestSession_EmptyMessageIsRelayed(t *testing.T) {
	room, _ := newTestRoom()
	c := connect(t, context.Background(), room)
	c.expect(t, Welcome)
	c.say("login:alice")
	c.expect(t, "New user: alice")

	c.say("")
	c.expect(t, "alice: ")
}

func TestSession_DisconnectLeavesRoom(t *testing.T) {
	room, m := newTestRoom()
	ctx := context.Background()

	a := connect(t, ctx, room)
	a.expect(t, Welcome)
	a.say("login:alice")
	a.expect(t, "New user: alice")
	require.EqualValues(t, 1, m.ActiveSessions())

	// Client hangs up.
	a.hangUp()
	a.waitDone(t)
	a.waitClosed(t)
	require.Zero(t, room.Len())
	require.EqualValues(t, 0, m.ActiveSessions())
	require.EqualValues(t, 1, m.TotalSessions())

	// The name is free again.
	b := connect(t, ctx, room)
	b.expect(t, Welcome)
	b.say("login:alice")
	b.expect(t, "New user: alice")
}

func TestSession_ContextCancelClosesConnection(t *testing.T) {
	room, _ := newTestRoom()
	ctx, cancel := context.WithCancel(context.Background())

	c := connect(t, ctx, room)
	c.expect(t, Welcome)
	c.say("login:alice")
	c.expect(t, "New user: alice")

	cancel()
	c.waitDone(t)
	c.waitClosed(t)
	require.Zero(t, room.Len())
}

func TestSession_ConcurrentSameName(t *testing.T) {
	const n = 8
	room, m := newTestRoom()
	ctx := context.Background()

	clients := make([]*client, n)
	for i := range clients {
		clients[i] = connect(t, ctx, room)
		clients[i].expect(t, Welcome)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			c.say("login:neo")
		}(c)
	}
	wg.Wait()

	closed := 0
	for _, c := range clients {
		select {
		case <-c.done:
			closed++
		case <-time.After(500 * time.Millisecond):
		}
	}
	require.Equal(t, n-1, closed)
	require.Equal(t, []string{"neo"}, room.Names())
	require.EqualValues(t, n-1, m.NamesRejected())
}

func TestSession_Identity(t *testing.T) {
	room, _ := newTestRoom()
	a := NewSession(newFakeConn("203.0.113.5"), room, 4)
	b := NewSession(newFakeConn("203.0.113.5"), room, 4)

	require.NotEqual(t, a.ID(), b.ID())
	require.Equal(t, "203.0.113.5", a.Addr())
	require.Empty(t, a.Name())
	require.False(t, a.Registered())
}
