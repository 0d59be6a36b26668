package chatclient

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Tyrowin/meetchat/internal/chat"
)

// Panel is a line-oriented chat panel: it prints the transcript as messages
// arrive and interprets typed lines as either commands or chat text.
//
//	/everyone on|off   toggle the local send permission
//	/quit              leave the chat
type Panel struct {
	mu    sync.Mutex
	out   io.Writer
	self  string
	shown int
}

// NewPanel writes to out and attributes messages from self to "you".
func NewPanel(out io.Writer, self string) *Panel {
	return &Panel{out: out, self: self}
}

// Show prints one received message. It is suitable as a WithObserver callback.
func (p *Panel) Show(m chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shown++
	_, _ = fmt.Fprintln(p.out, FormatLine(m, p.self))
}

// Notice prints a local status line that is not part of the transcript.
func (p *Panel) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, "-- %s\n", text)
}

// ShowEmptyHint prints EmptyHint if no message has been shown yet.
func (p *Panel) ShowEmptyHint() {
	p.mu.Lock()
	empty := p.shown == 0
	p.mu.Unlock()
	if empty {
		p.Notice(EmptyHint)
	}
}

// HandleInput applies one typed line to c. It reports quit when the user
// asked to leave; send errors are returned for the caller to report.
func (p *Panel) HandleInput(c *Client, line string) (quit bool, err error) {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "/quit":
		return true, nil

	case strings.HasPrefix(trimmed, "/everyone"):
		switch strings.TrimSpace(strings.TrimPrefix(trimmed, "/everyone")) {
		case "on":
			c.SetEveryoneMayChat(true)
			p.Notice("everyone may send messages")
		case "off":
			c.SetEveryoneMayChat(false)
			p.Notice("sending disabled")
		default:
			p.Notice("usage: /everyone on|off")
		}
		return false, nil
	}

	if !c.EveryoneMayChat() && trimmed != "" {
		p.Notice("sending is disabled; use /everyone on")
		return false, nil
	}
	return false, c.Send(line)
}
