package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeMessageCreate MessageType = "message_create"
	TypeClientControl MessageType = "client_control"
	TypeReply         MessageType = "reply"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Control actions a gateway client may send.
const (
	ActionPing  = "ping"
	ActionReset = "reset"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// MessageCreate is a chat message observed on the channel.
type MessageCreate struct {
	Type       MessageType `json:"type"`
	MessageID  string      `json:"message_id,omitempty"`
	Content    string      `json:"content"`
	AuthorName string      `json:"author_name"`
	AuthorID   string      `json:"author_id"`
	AuthorBot  bool        `json:"author_bot,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// Reply is the bot's answer to a MessageCreate.
type Reply struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	ReplyTo    string      `json:"reply_to,omitempty"`
	Text       string      `json:"text"`
	Persisted  bool        `json:"persisted"`
	Compressed bool        `json:"compressed"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeMessageCreate:
		var msg MessageCreate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPing, ActionReset:
			return msg, nil
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
	default:
		return nil, ErrUnsupportedType
	}
}
