package transport

import (
	"context"
	"net/http"
	"strings"
)

// Kind names a transport.
type Kind string

// Known transport kinds.
const (
	KindWebSocket Kind = "websocket"
	KindPolling   Kind = "polling"
	KindTest      Kind = "test"
)

// Sink receives inbound traffic from an Adapter. The connection core
// implements it; adapters hold it as a non-owning back-reference.
//
// OnMessage must not retain payload after returning. OnClose and OnError may
// be called from any goroutine and more than once; only the first terminal
// signal has an effect.
type Sink interface {
	// ID returns the connection id. Adapters whose clients address later
	// requests to the connection report it during the handshake.
	ID() string

	// OnMessage delivers one raw client message.
	OnMessage(payload []byte)

	// OnClose reports that the transport terminated.
	OnClose()

	// OnError reports a transport-level failure.
	OnError(err error)
}

// Adapter is one client's transport.
type Adapter interface {
	// Open completes the transport handshake and starts delivering inbound
	// traffic to sink. Delivery may begin before Open returns, so sink must
	// accept OnMessage, OnClose and OnError from the moment Open is called.
	// If Open returns an error, later sink calls are ignored.
	Open(ctx context.Context, sink Sink) error

	// Send delivers one encoded message to the client. A failed Send does not
	// close the adapter.
	Send(payload []byte) error

	// Close terminates the transport from the server side. Close does not call
	// the sink's OnClose.
	Close() error

	// Kind reports the transport kind.
	Kind() Kind
}

// RequestHandler is implemented by adapters whose client keeps talking over
// later HTTP requests addressed to the connection id, such as polling.
type RequestHandler interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Drainer is implemented by adapters that can still hand buffered output to
// the client after Close. The channel closes once nothing more will be
// collected; until then follow-up requests must keep reaching the adapter.
type Drainer interface {
	Drained() <-chan struct{}
}

// Factory builds adapters for requests it accepts.
type Factory interface {
	// Kind reports the transport kind this factory builds.
	Kind() Kind

	// Accepts reports whether the factory can serve req.
	Accepts(req *Request) bool

	// New creates an unopened adapter for req.
	New(req *Request) (Adapter, error)
}

// Request carries what the core needs to know about an incoming connection
// attempt. It decouples the core from the host web server.
type Request struct {
	// Upgrade is set when the client asked for a full-duplex upgrade.
	Upgrade bool

	// Transport is an explicit transport hint from the client, if any.
	Transport Kind

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// Header holds the request headers.
	Header http.Header

	// ResponseWriter and HTTPRequest are the raw handles adapters use to
	// complete their handshake.
	ResponseWriter http.ResponseWriter
	HTTPRequest    *http.Request
}

// RequestFromHTTP builds a Request from an HTTP request. The upgrade hint is
// taken from the Connection/Upgrade headers; the transport hint from the
// "transport" query parameter.
func RequestFromHTTP(w http.ResponseWriter, r *http.Request) *Request {
	return &Request{
		Upgrade:        isUpgrade(r.Header),
		Transport:      Kind(r.URL.Query().Get("transport")),
		RemoteAddr:     r.RemoteAddr,
		Header:         r.Header,
		ResponseWriter: w,
		HTTPRequest:    r,
	}
}

func isUpgrade(h http.Header) bool {
	if !strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range strings.Split(h.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return true
		}
	}
	return false
}
