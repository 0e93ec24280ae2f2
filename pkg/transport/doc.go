// Package transport defines the contract between the connection core and the
// transports clients connect over.
//
// An Adapter turns one client transport into a push-based contract: the core
// calls Open once with a Sink, then Send for each outbound message, and the
// adapter calls the Sink's OnMessage, OnClose and OnError as the client
// talks, hangs up, or fails.
//
// A Factory decides from a Request whether it can serve the client and builds
// the Adapter. The connection manager walks its factories in order and picks
// the first that accepts; nothing else in the core knows which transport a
// connection uses.
//
// Implementations live in subpackages:
//
//   - websocket: full-duplex, one message per frame
//   - polling: HTTP long-polling, outbound messages buffered until the next poll
//   - transporttest: in-memory adapter for tests
package transport
