// Package protocol implements the JSON wire format used between cable clients
// and the server.
//
// Every message on the wire is a two-element JSON array:
//
//	["event_name", {"key": "value"}]
//
// The first element is the event name. A name containing dots is namespace
// qualified ("products.update_list"); the codec passes it through unchanged
// and never resolves namespaces itself. The second element is an object of
// arbitrary JSON values. A null or missing object decodes to an empty map.
//
// # Batches
//
// The polling transport delivers several messages in one HTTP body. A batch
// is a JSON array of messages:
//
//	[["first", {}], ["second", {"n": 2}]]
//
// DecodeBatch accepts either a batch or a single message, so clients may post
// whichever is convenient.
//
// # Errors
//
// Decode failures are reported as *MalformedMessageError, which matches
// ErrMalformedMessage with errors.Is. The server turns them into client_error
// events instead of closing the connection.
package protocol
