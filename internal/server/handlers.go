// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in chat panel page.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const healthMessage = "meetchat relay is running!"

// Handlers serves the relay endpoints. The hub is injected so several
// independent relays can live in one process, as the tests do.
type Handlers struct {
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandlers builds the HTTP handlers for hub using cfg.
func NewHandlers(hub *Hub, cfg Config) *Handlers {
	cfg = cfg.sanitize()
	policy := newOriginPolicy(cfg.AllowedOrigins)

	return &Handlers{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// WebSocket handles upgrade requests on the dedicated endpoint. Only GET is
// accepted; anything else gets 405 with a plain-text explanation.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	h.serveWebSocket(w, r)
}

// Root upgrades WebSocket requests made to "/" and answers everything else
// with the health message, so clients can use the bare host:port URL.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}
	h.Health(w, r)
}

func (h *Handlers) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg)
	if !h.hub.Register(client) {
		client.logger.Info().Msg("Hub is shutting down; rejecting connection")
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Health provides a simple health check endpoint that returns server status.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "%s %d connected\n", healthMessage, h.hub.ClientCount())
}

// TestPage serves a self-contained chat panel that speaks the relay's
// envelope protocol, for trying the relay from a browser.
func (h *Handlers) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Warn().Err(err).Msg("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>In-call messages</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #panel { width: 320px; border: 1px solid #ccc; border-radius: 6px; padding: 12px; }
        #messages { height: 260px; overflow-y: auto; background: #f3f4f6; padding: 8px; margin: 10px 0; }
        .msg { margin-bottom: 8px; display: flex; }
        .msg.mine { justify-content: flex-end; }
        .bubble { max-width: 70%; padding: 6px; border-radius: 4px; background: #d1d5db; word-wrap: break-word; }
        .mine .bubble { background: #3b82f6; color: white; }
        .meta { font-size: 11px; font-weight: bold; }
        .time { font-size: 11px; color: #6b7280; }
        .hint { color: #6b7280; text-align: center; }
        .status { padding: 4px; margin-bottom: 8px; border-radius: 3px; }
        .open { background: #d4edda; color: #155724; }
        .closed { background: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <div id="panel">
        <h3>In-call messages</h3>
        <div id="status" class="status closed">Connecting</div>
        <label><input type="checkbox" id="everyone" checked> Let everyone send messages</label>
        <div id="messages"><p class="hint">Unless pinned, messages can only be seen by people in the call when the message is sent. All messages are deleted when the call ends.</p></div>
        <input type="text" id="user" placeholder="Your name" value="guest">
        <input type="text" id="input" placeholder="Send a message">
        <button id="send">Send</button>
    </div>

    <script>
        const messagesDiv = document.getElementById('messages');
        const input = document.getElementById('input');
        const everyone = document.getElementById('everyone');
        const statusDiv = document.getElementById('status');
        const received = [];
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        function render() {
            messagesDiv.innerHTML = '';
            const self = document.getElementById('user').value;
            for (const msg of received) {
                const row = document.createElement('div');
                row.className = 'msg' + (msg.user === self ? ' mine' : '');
                const bubble = document.createElement('div');
                bubble.className = 'bubble';
                const meta = document.createElement('div');
                meta.className = 'meta';
                meta.textContent = msg.user;
                const time = document.createElement('div');
                time.className = 'time';
                time.textContent = msg.time;
                const text = document.createElement('div');
                text.textContent = msg.text;
                bubble.append(meta, time, text);
                row.append(bubble);
                messagesDiv.append(row);
            }
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        async function decode(data) {
            const text = data instanceof Blob ? await data.text() : data;
            const msg = JSON.parse(text);
            if (typeof msg.text !== 'string' || typeof msg.time !== 'string' || typeof msg.user !== 'string') {
                throw new Error('missing envelope fields');
            }
            return msg;
        }

        ws.onopen = () => { statusDiv.textContent = 'Connected'; statusDiv.className = 'status open'; };
        ws.onclose = () => { statusDiv.textContent = 'Disconnected'; statusDiv.className = 'status closed'; };
        ws.onerror = (err) => console.error('WebSocket error:', err);
        ws.onmessage = async (event) => {
            try {
                received.push(await decode(event.data));
                render();
            } catch (e) {
                console.error('Error parsing message:', e);
            }
        };

        function sendMessage() {
            if (!input.value.trim() || !everyone.checked || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            ws.send(JSON.stringify({
                text: input.value,
                time: new Date().toLocaleTimeString(),
                user: document.getElementById('user').value,
            }));
            input.value = '';
        }

        everyone.addEventListener('change', () => {
            input.disabled = !everyone.checked;
            document.getElementById('send').disabled = !everyone.checked;
        });
        document.getElementById('send').addEventListener('click', sendMessage);
        input.addEventListener('keypress', (e) => { if (e.key === 'Enter') sendMessage(); });
    </script>
</body>
</html>`
