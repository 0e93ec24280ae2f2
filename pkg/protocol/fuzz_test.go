package protocol

import (
	"testing"
)

// FuzzDecode tests that decoding arbitrary bytes doesn't panic and that
// every accepted message carries a valid name.
func FuzzDecode(f *testing.F) {
	f.Add([]byte(`["change_username",{"user_name":"Joe User"}]`))
	f.Add([]byte(`["products.update_list",{"product":"x-ray-vision"}]`))
	f.Add([]byte(`["ping",null]`))
	f.Add([]byte(`["",{}]`))
	f.Add([]byte(`{"event":"x"}`))
	f.Add([]byte(`[`))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := Decode(data)
		if err != nil {
			return
		}
		if msg.Data == nil {
			t.Fatal("Decode() returned nil Data")
		}
		if verr := ValidateEventName(msg.Name); verr != nil {
			t.Fatalf("Decode() accepted name %q: %v", msg.Name, verr)
		}
	})
}

// FuzzDecodeBatch tests that splitting arbitrary bodies doesn't panic.
func FuzzDecodeBatch(f *testing.F) {
	f.Add([]byte(`[["a",{}],["b",{}]]`))
	f.Add([]byte(`["a",{}]`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`[[`))

	f.Fuzz(func(t *testing.T, data []byte) {
		messages, err := DecodeBatch(data)
		if err != nil {
			return
		}
		if len(messages) > MaxBatchSize {
			t.Fatalf("DecodeBatch() returned %d messages", len(messages))
		}
	})
}
