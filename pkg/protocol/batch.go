package protocol

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// EncodeBatch joins already encoded messages into one JSON array.
// An empty batch encodes as [].
func EncodeBatch(messages [][]byte) []byte {
	var buf bytes.Buffer
	buf.Grow(2 + len(messages))
	buf.WriteByte('[')
	for i, m := range messages {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(m)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// DecodeBatch splits a request body into raw messages. The body is either a
// single message or an array of messages. Individual messages are not
// validated beyond being JSON arrays; Decode does that per message so one bad
// entry does not discard the rest.
func DecodeBatch(body []byte) ([][]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, malformed(body, "empty body")
	}
	if !gjson.ValidBytes(body) {
		return nil, malformed(body, "invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, malformed(body, "body must be a JSON array")
	}

	items := root.Array()
	if len(items) == 0 {
		return nil, nil
	}
	if !items[0].IsArray() {
		// A single [name, data] message.
		return [][]byte{body}, nil
	}
	if len(items) > MaxBatchSize {
		return nil, malformed(body, "batch exceeds %d messages", MaxBatchSize)
	}

	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item.Raw))
	}
	return out, nil
}
