// Package server coordinates connection registration, message fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Hub is the registry of live connections. A single Run goroutine applies
// every register, unregister and broadcast in the order it receives them, so
// each connection sees frames in the hub's arrival order. The client map is
// additionally guarded by mutex for readers outside that goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan Frame
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and an empty client set. Call Run before registering connections.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Frame),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register adds client to the live set. Frames broadcast after Register
// returns are delivered to it; earlier frames never are. It reports false
// when the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes client from the live set and closes its outbound
// queue. Unregistering an unknown or already removed client is a no-op.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues frame for delivery to every registered client, the sender
// included. It reports false when the hub is shutting down.
func (h *Hub) Broadcast(frame Frame) bool {
	select {
	case h.broadcast <- frame:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It blocks until Shutdown is called,
// so run it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "disconnected")

		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	if client == nil {
		log.Warn().Msg("Received nil client registration; skipping")
		return
	}

	if client.closed {
		client.logger.Warn().Msg("Ignoring registration of a closed client")
		return
	}

	h.mutex.Lock()
	if _, exists := h.clients[client]; exists {
		h.mutex.Unlock()
		return
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.logger.Info().Int("clients", clientCount).Msg("Client registered")

	if client.conn == nil {
		// Detached; the owner reads GetSendChan.
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient drops client from the set and closes its queue, which makes
// the write pump send a close frame and release the socket.
func (h *Hub) removeClient(client *Client, reason string) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	client.logger.Info().Str("reason", reason).Int("clients", clientCount).Msg("Client unregistered")
}

// handleBroadcast fans frame out to a snapshot of the live set. A client that
// cannot take the frame is removed without affecting the others.
func (h *Hub) handleBroadcast(frame Frame) {
	clients := h.getClientSnapshot()

	event := log.Debug().Int("targets", len(clients)).Int("bytes", len(frame.Payload))
	if frame.Sender != nil {
		event = event.Str("conn_id", frame.Sender.id)
	}
	event.Msg("Broadcasting frame")

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		h.removeClient(client, "send buffer full")
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// safeSend enqueues frame without blocking. The read lock is held across the
// send so removeClient cannot close the channel underneath it.
func (h *Hub) safeSend(client *Client, frame Frame) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		// Already gone; nothing to remove.
		return true
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// shutdownClients closes every outbound queue so each write pump says
// goodbye and closes its socket.
func (h *Hub) shutdownClients() {
	log.Info().Msg("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		delete(h.clients, client)
		client.closed = true
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
	}

	log.Info().Int("clients", len(clients)).Msg("Closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or context.DeadlineExceeded when the timeout is reached first. Calling it
// more than once is safe.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("Initiating hub shutdown...")

	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		log.Warn().Msg("Hub event loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info().Msg("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		log.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
