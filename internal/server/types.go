// Package server defines the relay frame type and utility helpers shared by
// client and hub logic.
package server

import (
	"errors"
	"net"
	"strings"
)

// Frame is one inbound WebSocket message queued for fan-out. Type is the
// gorilla/websocket message type (TextMessage or BinaryMessage) and is
// preserved on every outbound copy; Payload is never inspected.
type Frame struct {
	Sender  *Client
	Type    int
	Payload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
