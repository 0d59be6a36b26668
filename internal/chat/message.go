// Package chat defines the chat envelope exchanged over the relay and the
// append-only transcript a chat session renders.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// ErrMalformedEnvelope is returned by Decode for frames that are not a single
// JSON object carrying string text, time and user fields.
var ErrMalformedEnvelope = errors.New("malformed chat envelope")

// Message is one chat entry as sent on the wire and shown in the panel.
// Time is a display string produced from the sender's clock, not an instant.
type Message struct {
	Text string `json:"text"`
	Time string `json:"time"`
	User string `json:"user"`
}

// envelope mirrors Message with pointer fields so missing keys can be told
// apart from empty strings.
type envelope struct {
	Text *string `json:"text"`
	Time *string `json:"time"`
	User *string `json:"user"`
}

// NewMessage stamps text with the local time of sentAt.
func NewMessage(text, user string, sentAt time.Time) Message {
	return Message{
		Text: text,
		Time: sentAt.Format(time.TimeOnly),
		User: user,
	}
}

// Encode renders m as the JSON object carried by exactly one frame.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode chat message: %w", err)
	}
	return payload, nil
}

// Decode reads one frame's payload and parses it as a chat envelope. Text
// and binary frames both go through here; the frame type only changes how
// the transport tagged the bytes.
func Decode(r io.Reader) (Message, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Message{}, fmt.Errorf("read chat frame: %w", err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes is Decode for a payload already in memory.
func DecodeBytes(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return Message{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedEnvelope)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Message{}, fmt.Errorf("%w: trailing data after object", ErrMalformedEnvelope)
	}

	switch {
	case env.Text == nil:
		return Message{}, fmt.Errorf("%w: missing text", ErrMalformedEnvelope)
	case env.Time == nil:
		return Message{}, fmt.Errorf("%w: missing time", ErrMalformedEnvelope)
	case env.User == nil:
		return Message{}, fmt.Errorf("%w: missing user", ErrMalformedEnvelope)
	}

	return Message{Text: *env.Text, Time: *env.Time, User: *env.User}, nil
}
