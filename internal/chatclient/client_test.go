package chatclient_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/meetchat/internal/chat"
	"github.com/Tyrowin/meetchat/internal/chatclient"
	"github.com/Tyrowin/meetchat/internal/server"
)

var tenOClock = time.Date(2024, 5, 1, 10, 0, 1, 0, time.Local)

func fixedClock() time.Time { return tenOClock }

func startRelay(t *testing.T) (*server.Hub, string) {
	t.Helper()
	return startRelayWithConfig(t, *server.NewConfig())
}

func startRelayWithConfig(t *testing.T, cfg server.Config) (*server.Hub, string) {
	t.Helper()

	hub := server.NewHub()
	go hub.Run()

	ts := httptest.NewServer(server.SetupRoutes(hub, cfg))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func connect(t *testing.T, url, user string, opts ...chatclient.Option) *chatclient.Client {
	t.Helper()

	c := chatclient.New(url, user, append([]chatclient.Option{chatclient.WithClock(fixedClock)}, opts...)...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// observe opens a raw socket that sees everything the relay broadcasts.
func observe(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *server.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n },
		2*time.Second, 10*time.Millisecond)
}

func waitForMessages(t *testing.T, c *chatclient.Client, n int) []chat.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Messages()) >= n },
		2*time.Second, 10*time.Millisecond, "%s expected %d messages", c.User(), n)
	return c.Messages()
}

func expectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, payload, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", payload)

	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func TestClientScenarioAliceAndBob(t *testing.T) {
	hub, url := startRelay(t)
	alice := connect(t, url, "alice")
	bob := connect(t, url, "bob")
	waitForClients(t, hub, 2)

	require.NoError(t, alice.Send("hi"))

	want := chat.Message{Text: "hi", Time: "10:00:01", User: "alice"}
	assert.Equal(t, []chat.Message{want}, waitForMessages(t, alice, 1))
	assert.Equal(t, []chat.Message{want}, waitForMessages(t, bob, 1))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, bob.Messages(), 1)
	assert.Equal(t, chatclient.StateOpen, bob.State())
}

func TestClientSendsOneEnvelopePerFrame(t *testing.T) {
	hub, url := startRelay(t)
	alice := connect(t, url, "alice")
	raw := observe(t, url)
	waitForClients(t, hub, 2)

	require.NoError(t, alice.Send("  padded text  "))

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, payload, err := raw.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.JSONEq(t, `{"text":"  padded text  ","time":"10:00:01","user":"alice"}`, string(payload))
}

func TestClientObserverSeesEachMessage(t *testing.T) {
	hub, url := startRelay(t)

	var mu sync.Mutex
	var seen []string
	alice := connect(t, url, "alice", chatclient.WithObserver(func(m chat.Message) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Text)
	}))
	waitForClients(t, hub, 1)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, alice.Send(text))
	}
	waitForMessages(t, alice, 3)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, seen)
}

func TestClientDiscardsMalformedFrames(t *testing.T) {
	hub, url := startRelay(t)
	bob := connect(t, url, "bob")
	raw := observe(t, url)
	waitForClients(t, hub, 2)

	frames := []struct {
		messageType int
		payload     string
	}{
		{websocket.TextMessage, "definitely not json"},
		{websocket.TextMessage, `{"text":"no sender","time":"10:00:02"}`},
		{websocket.TextMessage, `{"time":"10:00:02","user":"mallory"}`},
		{websocket.TextMessage, `[1,2,3]`},
		{websocket.BinaryMessage, "\xff\xfe\xfd"},
		{websocket.BinaryMessage, `{"text":"from a blob","time":"10:00:03","user":"carol"}`},
	}
	for _, f := range frames {
		require.NoError(t, raw.WriteMessage(f.messageType, []byte(f.payload)))
	}

	msgs := waitForMessages(t, bob, 1)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []chat.Message{{Text: "from a blob", Time: "10:00:03", User: "carol"}}, bob.Messages())
	assert.Len(t, msgs, 1)
	assert.Equal(t, chatclient.StateOpen, bob.State())

	// The connection is still usable after the bad frames.
	require.NoError(t, bob.Send("still working"))
	assert.Equal(t, "still working", waitForMessages(t, bob, 2)[1].Text)
}

func TestClientLocalGatingSendsNothing(t *testing.T) {
	hub, url := startRelay(t)
	alice := connect(t, url, "alice")
	raw := observe(t, url)
	waitForClients(t, hub, 2)

	alice.SetEveryoneMayChat(false)
	assert.False(t, alice.EveryoneMayChat())
	require.NoError(t, alice.Send("muted"))
	require.NoError(t, alice.Send("   "))

	expectSilence(t, raw, 200*time.Millisecond)
	assert.Empty(t, alice.Messages())

	alice.SetEveryoneMayChat(true)
	require.NoError(t, alice.Send("unmuted"))
	assert.Equal(t, "unmuted", waitForMessages(t, alice, 1)[0].Text)
}

func TestClientBlankTextIsNotSent(t *testing.T) {
	hub, url := startRelay(t)
	alice := connect(t, url, "alice")
	raw := observe(t, url)
	waitForClients(t, hub, 2)

	require.NoError(t, alice.Send(""))
	require.NoError(t, alice.Send("\n\t "))

	expectSilence(t, raw, 200*time.Millisecond)
}

func TestClientSendWhileNotOpenIsDiscarded(t *testing.T) {
	hub, url := startRelay(t)
	raw := observe(t, url)
	waitForClients(t, hub, 1)

	pending := chatclient.New(url, "early")
	assert.Equal(t, chatclient.StateConnecting, pending.State())
	require.NoError(t, pending.Send("too early"))

	closed := connect(t, url, "late")
	waitForClients(t, hub, 2)
	require.NoError(t, closed.Close())
	require.NoError(t, closed.Send("too late"))

	expectSilence(t, raw, 200*time.Millisecond)
}

func TestClientTeardownIsIdempotent(t *testing.T) {
	hub, url := startRelay(t)

	neverConnected := chatclient.New(url, "ghost")
	require.NoError(t, neverConnected.Close())
	require.NoError(t, neverConnected.Close())
	assert.Equal(t, chatclient.StateClosed, neverConnected.State())
	assert.ErrorIs(t, neverConnected.Connect(context.Background()), chatclient.ErrClosed)

	c := connect(t, url, "alice")
	waitForClients(t, hub, 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, chatclient.StateClosed, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	waitForClients(t, hub, 0)
	assert.ErrorIs(t, c.Connect(context.Background()), chatclient.ErrClosed)
}

func TestClientConnectTwice(t *testing.T) {
	_, url := startRelay(t)
	c := connect(t, url, "alice")

	assert.ErrorIs(t, c.Connect(context.Background()), chatclient.ErrAlreadyConnected)
	assert.Equal(t, chatclient.StateOpen, c.State())
}

func TestClientConnectFailureClosesClient(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	c := chatclient.New(url, "alice")
	err := c.Connect(context.Background())

	require.Error(t, err)
	assert.Equal(t, chatclient.StateClosed, c.State())
	assert.ErrorIs(t, c.Connect(context.Background()), chatclient.ErrClosed)
	assert.NoError(t, c.Close())
}

func TestClientDoesNotReconnectAfterServerShutdown(t *testing.T) {
	hub, url := startRelay(t)
	c := connect(t, url, "alice")
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Shutdown(2*time.Second))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe server shutdown")
	}
	assert.Equal(t, chatclient.StateClosed, c.State())
	assert.NoError(t, c.Send("anyone?"))
	assert.Empty(t, c.Messages())
}

func TestMountReleasesConnection(t *testing.T) {
	hub, url := startRelay(t)

	var mounted *chatclient.Client
	err := chatclient.Mount(context.Background(), url, "alice", func(c *chatclient.Client) error {
		mounted = c
		waitForClients(t, hub, 1)
		return c.Send("hello")
	}, chatclient.WithClock(fixedClock))
	require.NoError(t, err)

	require.NotNil(t, mounted)
	assert.Equal(t, chatclient.StateClosed, mounted.State())
	waitForClients(t, hub, 0)
}

func TestMountReleasesConnectionOnError(t *testing.T) {
	hub, url := startRelay(t)
	boom := errors.New("panel crashed")

	var mounted *chatclient.Client
	err := chatclient.Mount(context.Background(), url, "alice", func(c *chatclient.Client) error {
		mounted = c
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, chatclient.StateClosed, mounted.State())
	waitForClients(t, hub, 0)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", chatclient.StateConnecting.String())
	assert.Equal(t, "open", chatclient.StateOpen.String())
	assert.Equal(t, "closed", chatclient.StateClosed.String())
	assert.Equal(t, "state(9)", chatclient.State(9).String())
}

func TestClientOriginAgainstAllowList(t *testing.T) {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"http://meet.example.com"}
	hub, url := startRelayWithConfig(t, *cfg)

	bare := chatclient.New(url, "mallory")
	require.Error(t, bare.Connect(context.Background()))
	assert.Equal(t, chatclient.StateClosed, bare.State())

	wrong := chatclient.New(url, "mallory", chatclient.WithOrigin("http://evil.example.com"))
	require.Error(t, wrong.Connect(context.Background()))

	alice := connect(t, url, "alice", chatclient.WithOrigin("http://meet.example.com"))
	bob := connect(t, url, "bob", chatclient.WithHeader(http.Header{"origin": []string{"HTTP://Meet.Example.com"}}))
	waitForClients(t, hub, 2)

	require.NoError(t, alice.Send("hi"))
	assert.Equal(t, "hi", waitForMessages(t, bob, 1)[0].Text)
}

func TestClientEmptyOriginSendsNoHeader(t *testing.T) {
	var origin atomic.Value
	origin.Store("unset")

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin.Store(r.Header.Get("Origin"))
		return true
	}}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	connect(t, "ws"+strings.TrimPrefix(ts.URL, "http"), "alice", chatclient.WithOrigin(""))
	assert.Equal(t, "", origin.Load())
}

func TestClientUsesProvidedDialer(t *testing.T) {
	hub, url := startRelay(t)

	var dials atomic.Int32
	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}

	c := connect(t, url, "alice", chatclient.WithDialer(dialer))
	waitForClients(t, hub, 1)

	assert.Equal(t, int32(1), dials.Load())
	require.NoError(t, c.Send("dialed"))
	assert.Equal(t, "dialed", waitForMessages(t, c, 1)[0].Text)
}
