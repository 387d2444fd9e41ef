// Package agent implements the out-of-process signaling channel for the
// session manager. The agent holds no network or storage authority of
// its own: it exchanges a small closed set of tagged messages with a
// manager, queues them while no manager is attached, and exposes a
// local HTTP endpoint so sibling processes can signal the daemon.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MsgType discriminates agent messages. The set is closed: anything
// else is rejected at the boundary.
type MsgType string

const (
	// MsgCheckRequest asks the manager to re-evaluate session state.
	MsgCheckRequest MsgType = "check-request"
	// MsgRefreshRequest asks the manager to refresh if the credential
	// is inside the refresh window.
	MsgRefreshRequest MsgType = "refresh-request"
	// MsgForceRefresh asks the manager to refresh regardless of the
	// remaining credential lifetime.
	MsgForceRefresh MsgType = "force-refresh"
)

// ParseMsgType validates a wire string against the closed set.
func ParseMsgType(s string) (MsgType, error) {
	switch MsgType(s) {
	case MsgCheckRequest, MsgRefreshRequest, MsgForceRefresh:
		return MsgType(s), nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// Message is one tagged signal between the agent and a manager.
type Message struct {
	ID        string    `json:"id"`
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message with a fresh ID and the current time.
func NewMessage(t MsgType) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// UnmarshalJSON enforces the closed type set on decode.
func (m *Message) UnmarshalJSON(data []byte) error {
	type raw Message
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if _, err := ParseMsgType(string(r.Type)); err != nil {
		return err
	}
	*m = Message(r)
	return nil
}
