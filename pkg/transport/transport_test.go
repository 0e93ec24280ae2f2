package transport

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestRequestFromHTTPUpgrade(t *testing.T) {
	r := httptest.NewRequest("GET", "/cable", nil)
	r.Header.Set("Connection", "keep-alive, Upgrade")
	r.Header.Set("Upgrade", "WebSocket")
	w := httptest.NewRecorder()

	req := RequestFromHTTP(w, r)
	if !req.Upgrade {
		t.Error("Upgrade = false, want true")
	}
	if req.ResponseWriter != w || req.HTTPRequest != r {
		t.Error("raw handles should be carried through")
	}
}

func TestRequestFromHTTPPolling(t *testing.T) {
	r := httptest.NewRequest("GET", "/cable?transport=polling", nil)
	r.Header.Set("Upgrade", "websocket")

	req := RequestFromHTTP(httptest.NewRecorder(), r)
	if req.Upgrade {
		t.Error("Upgrade = true without Connection: upgrade")
	}
	if req.Transport != KindPolling {
		t.Errorf("Transport = %q, want %q", req.Transport, KindPolling)
	}
}

func TestTransportError(t *testing.T) {
	if NewTransportError(KindPolling, "send", nil) != nil {
		t.Error("NewTransportError(nil) should return nil")
	}

	err := NewTransportError(KindWebSocket, "send", ErrAdapterClosed)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TransportError", err)
	}
	if te.Kind != KindWebSocket || te.Op != "send" {
		t.Errorf("got %+v", te)
	}
	if !errors.Is(err, ErrAdapterClosed) {
		t.Error("TransportError should unwrap to ErrAdapterClosed")
	}
	if got := err.Error(); got != "transport: websocket send: transport: adapter closed" {
		t.Errorf("Error() = %q", got)
	}

	// Already-typed errors are not double wrapped.
	if again := NewTransportError(KindPolling, "open", err); again != err {
		t.Error("NewTransportError should pass through an existing TransportError")
	}
}
