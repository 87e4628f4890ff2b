// Package wire defines the protocol messages exchanged between a streamrpc
// server and its peers, along with their JSON encoding.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the message discriminator carried in the "type" field.
type Type string

const (
	// TypeStart asks the server to begin a stream.
	TypeStart Type = "start"
	// TypeComplete is an inbound cancel or an outbound successful completion.
	// The two are disambiguated by direction.
	TypeComplete Type = "complete"
	// TypeNext carries one value produced by a stream.
	TypeNext Type = "next"
	// TypeError carries a terminal failure for an id.
	TypeError Type = "error"
)

// ErrUnexpectedType is returned by ValidateInbound for messages that only a
// server may send.
var ErrUnexpectedType = errors.New("wire: unexpected message type for direction")

// Message is a single protocol record. Which fields are populated depends on
// Type: start carries name and args, next carries value, error carries error.
type Message struct {
	Type  Type
	ID    string
	Name  string
	Args  []any
	Value any
	Error any
}

func NewStart(id, name string, args ...any) Message {
	if args == nil {
		args = []any{}
	}
	return Message{Type: TypeStart, ID: id, Name: name, Args: args}
}

// NewCancel builds the inbound complete message that cancels id.
func NewCancel(id string) Message {
	return Message{Type: TypeComplete, ID: id}
}

func NewNext(id string, value any) Message {
	return Message{Type: TypeNext, ID: id, Value: value}
}

func NewError(id string, msg string) Message {
	return Message{Type: TypeError, ID: id, Error: msg}
}

// NewDone builds the outbound complete message signalling successful
// termination of id.
func NewDone(id string) Message {
	return Message{Type: TypeComplete, ID: id}
}

// ErrorText renders the error payload as a string.
func (m Message) ErrorText() string {
	switch e := m.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}

// MarshalJSON writes exactly the fields Type defines. Those fields are always
// present: args is [] for a start without arguments, value is null for a nil
// next and error is written even when empty.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeStart:
		args := m.Args
		if args == nil {
			args = []any{}
		}
		return json.Marshal(struct {
			Type Type   `json:"type"`
			ID   string `json:"id"`
			Name string `json:"name"`
			Args []any  `json:"args"`
		}{m.Type, m.ID, m.Name, args})
	case TypeNext:
		return json.Marshal(struct {
			Type  Type   `json:"type"`
			ID    string `json:"id"`
			Value any    `json:"value"`
		}{m.Type, m.ID, m.Value})
	case TypeError:
		errv := m.Error
		if errv == nil {
			errv = ""
		}
		return json.Marshal(struct {
			Type  Type   `json:"type"`
			ID    string `json:"id"`
			Error any    `json:"error"`
		}{m.Type, m.ID, errv})
	default:
		return json.Marshal(struct {
			Type Type   `json:"type"`
			ID   string `json:"id"`
		}{m.Type, m.ID})
	}
}

// UnmarshalJSON decodes a message and validates its structure.
func (m *Message) UnmarshalJSON(data []byte) error {
	type rawMessage struct {
		Type  Type            `json:"type"`
		ID    *string         `json:"id"`
		Name  string          `json:"name,omitempty"`
		Args  json.RawMessage `json:"args,omitempty"`
		Value any             `json:"value,omitempty"`
		Error any             `json:"error,omitempty"`
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch raw.Type {
	case TypeStart, TypeComplete, TypeNext, TypeError:
	case "":
		return fmt.Errorf("message is missing a type")
	default:
		return fmt.Errorf("unknown message type %q", raw.Type)
	}

	if raw.ID == nil || *raw.ID == "" {
		return fmt.Errorf("%s message requires a non-empty id", raw.Type)
	}

	var args []any
	if raw.Type == TypeStart {
		if raw.Name == "" {
			return fmt.Errorf("start message requires a name")
		}
		args = []any{}
		if len(raw.Args) > 0 && string(raw.Args) != "null" {
			if err := json.Unmarshal(raw.Args, &args); err != nil {
				return fmt.Errorf("start message args must be an array: %w", err)
			}
		}
	}

	*m = Message{
		Type:  raw.Type,
		ID:    *raw.ID,
		Name:  raw.Name,
		Args:  args,
		Value: raw.Value,
		Error: raw.Error,
	}
	return nil
}

// ValidateInbound reports whether m is a message a server accepts.
func (m Message) ValidateInbound() error {
	switch m.Type {
	case TypeStart, TypeComplete:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedType, m.Type)
	}
}

// Encode renders m as a single JSON document.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return b, nil
}

// Decode parses and validates a single JSON document.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
