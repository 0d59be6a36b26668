// Package server manages individual relay connections, handling read/write
// pumps and lifecycle control for each socket.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is one relay connection. It has no identity beyond a log-only id:
// the relay never looks inside the frames it forwards.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan Frame
	hub          *Hub
	addr         string
	closed       bool
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// NewClient creates a Client for conn. The outbound queue is buffered to
// cfg.SendBufferSize frames.
//
// A nil conn makes a detached client: the hub registers it and fans frames
// out to it like any other, but starts no pumps, so the caller drains the
// queue through GetSendChan. The queue is closed when the client is
// unregistered or the hub shuts down.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config) *Client {
	cfg = cfg.sanitize()
	id := uuid.NewString()

	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan Frame, cfg.SendBufferSize),
		hub:          hub,
		addr:         addr,
		writeTimeout: cfg.WriteTimeout,
		logger:       log.With().Str("conn_id", id).Str("remote_addr", addr).Logger(),
	}
}

// ID returns the connection id used in log lines.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's outbound queue for reading.
func (c *Client) GetSendChan() <-chan Frame {
	return c.send
}

// logReadError classifies the error that ended the read loop.
func (c *Client) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info().Err(err).Msg("Client disconnected")

	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("Client connection closed")

	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn().Err(err).Msg("Unexpected WebSocket close")

	default:
		c.logger.Warn().Err(err).Msg("WebSocket read error")
	}
}

// readPump forwards every inbound data frame to the hub untouched, in the
// order the socket delivers them.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		c.logger.Debug().Int("type", messageType).Int("bytes", len(payload)).Msg("Received frame")

		if !c.hub.Broadcast(Frame{Sender: c, Type: messageType, Payload: payload}) {
			return
		}
	}
}

// writePump drains the outbound queue one frame per WebSocket message. When
// the hub closes the queue it sends a close frame and releases the socket.
func (c *Client) writePump() {
	defer c.closeConnection()

	for frame := range c.send {
		if !c.writeFrame(frame) {
			return
		}
	}

	c.writeCloseMessage()
}

func (c *Client) writeFrame(frame Frame) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("Error setting write deadline")
		return false
	}

	if err := c.conn.WriteMessage(frame.Type, frame.Payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("Error writing frame")
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	deadline := time.Now().Add(c.writeTimeout)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
	}
}

// closeConnection is called by both pumps; the second call's error is expected.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("Error closing connection")
	}
}
