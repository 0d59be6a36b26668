package chat

import "sync"

// Transcript is the ordered, append-only list of messages received during one
// chat session. Entries are never edited, removed or capped.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds m after every message already recorded and returns its index.
func (t *Transcript) Append(m Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = append(t.messages, m)
	return len(t.messages) - 1
}

// Messages returns a copy of the transcript in arrival order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len reports how many messages have been recorded.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
