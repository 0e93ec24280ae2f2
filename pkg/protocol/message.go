package protocol

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Message is a decoded wire message.
type Message struct {
	// Name is the event name, namespace qualified with dots when namespaced.
	Name string

	// Data is the event payload. Never nil after Decode.
	Data map[string]any
}

// Namespace returns the namespace segments of the message name.
// A root-level name returns nil.
func (m Message) Namespace() []string {
	i := strings.LastIndexByte(m.Name, '.')
	if i < 0 {
		return nil
	}
	return strings.Split(m.Name[:i], ".")
}

// Decode parses one wire message of the form [eventName, data].
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, malformed(data, "empty message")
	}
	if len(data) > MaxMessageSize {
		return Message{}, malformed(data, "message exceeds %d bytes", MaxMessageSize)
	}
	if !gjson.ValidBytes(data) {
		return Message{}, malformed(data, "invalid JSON")
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return Message{}, malformed(data, "message must be a JSON array")
	}
	return decodePair(data, root)
}

func decodePair(data []byte, root gjson.Result) (Message, error) {
	parts := root.Array()
	if len(parts) != 2 {
		return Message{}, malformed(data, "message must have 2 elements, got %d", len(parts))
	}

	nameField := parts[0]
	if nameField.Type != gjson.String {
		return Message{}, malformed(data, "event name must be a string")
	}
	if err := ValidateEventName(nameField.Str); err != nil {
		return Message{}, malformed(data, "%s", err.Reason)
	}

	payload := parts[1]
	msg := Message{Name: nameField.Str}
	switch {
	case payload.Type == gjson.Null:
		msg.Data = map[string]any{}
	case payload.IsObject():
		m, ok := payload.Value().(map[string]any)
		if !ok {
			return Message{}, malformed(data, "event data must be a JSON object")
		}
		msg.Data = m
	default:
		return Message{}, malformed(data, "event data must be a JSON object")
	}
	return msg, nil
}

// ValidateEventName checks that name is usable as a qualified event name:
// non-empty, bounded, and without empty namespace segments.
func ValidateEventName(name string) *MalformedMessageError {
	if name == "" {
		return &MalformedMessageError{Reason: "event name is empty"}
	}
	if len(name) > MaxEventNameLength {
		return &MalformedMessageError{Reason: "event name too long", Size: len(name)}
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" {
			return &MalformedMessageError{Reason: "event name has an empty namespace segment", Size: len(name)}
		}
	}
	return nil
}

// Encode builds the wire form of an event. A nil data map encodes as {}.
func Encode(name string, data map[string]any) ([]byte, error) {
	if err := ValidateEventName(name); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal([]any{name, data})
}

// MustEncode is like Encode but panics on error. Intended for tests and
// static payloads.
func MustEncode(name string, data map[string]any) []byte {
	b, err := Encode(name, data)
	if err != nil {
		panic(err)
	}
	return b
}
