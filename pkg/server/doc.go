// Package server provides the connection and event routing core.
//
// The core accepts transport-agnostic connections, decodes their wire
// messages into events, resolves each event against an EventMap and invokes
// the bound controller action. The connection lifecycle is fed back through
// the same path as synthetic events, so handlers see client_connected,
// client_disconnected and client_error exactly like client events.
//
// # Architecture
//
//   - Connection: one client, its lifecycle state, inbound queue and data store
//   - ConnectionManager: selects a transport, opens it, owns the live registry
//   - Dispatcher: resolves events and invokes controllers through middleware
//   - Controllers: target name → ControllerFactory registry
//   - Server: HTTP mount with graceful shutdown
//
// # Connection Lifecycle
//
//	Connecting → Open → Closing → Closed
//
// A connection becomes Open once its adapter's handshake succeeds, and its
// processing goroutine dispatches client_connected before any client event.
// A transport close, a transport error or a server-side Close moves it to
// Closing: the in-flight handler finishes and queued messages are
// discarded. On Closed exactly one terminal event is dispatched
// (client_disconnected, or client_error after a transport error) and the
// connection leaves the registry.
//
// # Event Processing
//
// When a client sends a message:
//  1. The adapter delivers the raw bytes to the Connection
//  2. The message is queued on the connection's inbound FIFO
//  3. The processing goroutine decodes it into an Event
//  4. The Dispatcher resolves the qualified name against the EventMap
//  5. A fresh controller is built and the action runs inside the middleware chain
//  6. A failure is converted to client_error on the same connection
//
// # Example Usage
//
//	routes, _ := eventmap.Describe(func(m *eventmap.Mapper) {
//	    m.Subscribe("client_connected", "chat", "new_user")
//	    m.Namespace("products", func(m *eventmap.Mapper) {
//	        m.Subscribe("update_list", "products", "update_list")
//	    })
//	})
//
//	controllers := server.NewControllers()
//	controllers.Register("chat", chat.NewController)
//
//	d := server.NewDispatcher(routes, controllers, logger)
//	srv := server.New(d, server.DefaultServerConfig(), logger)
//	srv.Run(ctx)
//
// # Thread Safety
//
//   - Each connection dispatches its events one at a time, in arrival order
//   - Different connections dispatch concurrently
//   - ConnectionManager uses an RWMutex for the registry
//   - EventMap snapshots are immutable; eventmap.Table swaps them atomically
package server
