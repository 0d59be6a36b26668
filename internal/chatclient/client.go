// Package chatclient is the participant side of the chat relay: it owns one
// WebSocket connection, turns typed text into chat envelopes, and keeps the
// transcript of everything the relay delivers.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/meetchat/internal/chat"
)

var (
	// ErrClosed is returned by Connect once the client has been closed.
	// A closed client never reconnects; build a new one instead.
	ErrClosed = errors.New("chat client is closed")

	// ErrAlreadyConnected is returned by a second Connect call.
	ErrAlreadyConnected = errors.New("chat client already connected")
)

// State is the connection lifecycle: Connecting, then Open, then Closed.
// There is no way back from Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces time.Now for stamping outgoing messages.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer replaces the default dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithHeader adds request headers to the handshake.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		if c.header == nil {
			c.header = make(http.Header, len(header))
		}
		for key, values := range header {
			c.header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
}

// WithOrigin sends origin as the handshake's Origin header, which a relay
// with an origin allow-list requires. An empty origin sends none.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		if origin == "" {
			return
		}
		WithHeader(http.Header{"Origin": []string{origin}})(c)
	}
}

// WithObserver registers fn to be called, on the read goroutine, after each
// message is appended to the transcript. fn must not call Close.
func WithObserver(fn func(chat.Message)) Option {
	return func(c *Client) {
		c.onMessage = fn
	}
}

// Client is one participant's chat session.
type Client struct {
	url       string
	user      string
	dialer    *websocket.Dialer
	header    http.Header
	clock     func() time.Time
	onMessage func(chat.Message)

	transcript      *chat.Transcript
	everyoneMayChat atomic.Bool
	state           atomic.Int32
	started         atomic.Bool

	mu          sync.Mutex
	conn        *websocket.Conn
	readStarted bool
	writeMu     sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
	logger    zerolog.Logger
}

// New returns a client in the Connecting state for the relay at url. user
// is the identity supplied by the hosting application; it is not validated.
func New(url, user string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		user:       user,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		clock:      time.Now,
		transcript: chat.NewTranscript(),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		logger:     log.With().Str("user", user).Str("url", url).Logger(),
	}
	c.everyoneMayChat.Store(true)
	c.state.Store(int32(StateConnecting))

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done is closed when the client enters Closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// User returns the identity this client stamps on outgoing messages.
func (c *Client) User() string {
	return c.user
}

// Messages returns the transcript in arrival order.
func (c *Client) Messages() []chat.Message {
	return c.transcript.Messages()
}

// SetEveryoneMayChat toggles the local send permission. It only gates this
// client's Send; nothing is sent to the relay or other participants.
func (c *Client) SetEveryoneMayChat(allowed bool) {
	c.everyoneMayChat.Store(allowed)
}

// EveryoneMayChat reports the local send permission.
func (c *Client) EveryoneMayChat() bool {
	return c.everyoneMayChat.Load()
}

// Connect performs the WebSocket handshake and starts receiving. A failed
// handshake closes the client for good.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		if c.State() == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	if c.State() == StateClosed {
		return ErrClosed
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.shutdown(err)
		return fmt.Errorf("connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.readStarted = true
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	c.logger.Info().Msg("Chat connection established")
	go c.readLoop(conn)
	return nil
}

// Send stamps text with the local time and this client's identity and
// writes it as one frame. Blank text, a disabled permission flag, or a
// connection that is not open make Send a silent no-op.
func (c *Client) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !c.EveryoneMayChat() {
		c.logger.Debug().Msg("Sending disabled; message not sent")
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	open := c.State() == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		c.logger.Debug().Str("state", c.State().String()).Msg("Connection not open; dropping message")
		return nil
	}

	payload, err := chat.Encode(chat.NewMessage(text, c.user, c.clock()))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		if c.State() == StateClosed {
			return nil
		}
		c.shutdown(err)
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// Close ends the session. It is safe to call any number of times, before or
// after Connect, and waits for the read goroutine to finish.
func (c *Client) Close() error {
	c.shutdown(nil)

	c.mu.Lock()
	started := c.readStarted
	c.mu.Unlock()
	if started {
		<-c.readDone
	}
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state.Store(int32(StateClosed))
		conn := c.conn
		c.mu.Unlock()

		close(c.done)

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}

		if cause != nil && !isNormalClose(cause) {
			c.logger.Warn().Err(cause).Msg("Chat connection closed")
			return
		}
		c.logger.Info().Msg("Chat connection closed")
	})
}

// readLoop decodes every inbound frame, text or binary alike, and appends
// the valid ones. Malformed frames are dropped without touching the
// connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	for {
		messageType, r, err := conn.NextReader()
		if err != nil {
			c.shutdown(err)
			return
		}

		msg, err := chat.Decode(r)
		if err != nil {
			if !errors.Is(err, chat.ErrMalformedEnvelope) {
				c.shutdown(err)
				return
			}
			c.logger.Warn().Err(err).Int("frame_type", messageType).Msg("Discarding chat frame")
			continue
		}

		c.transcript.Append(msg)
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF)
}
