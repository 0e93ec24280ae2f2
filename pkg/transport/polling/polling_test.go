package polling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/cable/pkg/transport"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []string
	closed   int
}

func (s *recordingSink) ID() string { return "conn-1" }

func (s *recordingSink) OnMessage(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(payload))
}

func (s *recordingSink) OnClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSink) OnError(err error) {}

func (s *recordingSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func openAdapter(t *testing.T, cfg *Config) (*Adapter, *recordingSink, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := transport.RequestFromHTTP(rec, httptest.NewRequest(http.MethodGet, "/cable", nil))

	f := NewFactory(cfg, nil)
	if !f.Accepts(req) {
		t.Fatal("Accepts() = false for a plain request")
	}
	a, err := f.New(req)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sink := &recordingSink{}
	if err := a.Open(context.Background(), sink); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a.(*Adapter), sink, rec
}

func poll(a *Adapter) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cable/conn-1", nil))
	return rec
}

func TestOpenWritesHandshake(t *testing.T) {
	_, _, rec := openAdapter(t, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var hs Handshake
	if err := json.Unmarshal(rec.Body.Bytes(), &hs); err != nil {
		t.Fatalf("handshake is not JSON: %v", err)
	}
	if hs.ID != "conn-1" {
		t.Errorf("ID = %q, want conn-1", hs.ID)
	}
	if hs.Transport != transport.KindPolling {
		t.Errorf("Transport = %q, want polling", hs.Transport)
	}
}

func TestPollDrainsBuffer(t *testing.T) {
	a, _, _ := openAdapter(t, nil)

	a.Send([]byte(`["a",{}]`))
	a.Send([]byte(`["b",{"n":1}]`))

	rec := poll(a)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, want := rec.Body.String(), `[["a",{}],["b",{"n":1}]]`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
	if a.Buffered() != 0 {
		t.Errorf("Buffered() = %d after poll, want 0", a.Buffered())
	}
}

func TestPollTimesOutEmpty(t *testing.T) {
	a, _, _ := openAdapter(t, &Config{PollTimeout: 20 * time.Millisecond})

	start := time.Now()
	rec := poll(a)
	if rec.Body.String() != "[]" {
		t.Errorf("body = %s, want []", rec.Body.String())
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("poll returned before PollTimeout")
	}
}

func TestPollWakesOnSend(t *testing.T) {
	a, _, _ := openAdapter(t, &Config{PollTimeout: 5 * time.Second})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- poll(a) }()

	time.Sleep(20 * time.Millisecond)
	a.Send([]byte(`["late",{}]`))

	select {
	case rec := <-done:
		if rec.Body.String() != `[["late",{}]]` {
			t.Errorf("body = %s, want the late message", rec.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake on Send")
	}
}

func TestPostDeliversMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"single", `["ping",{}]`, []string{`["ping",{}]`}},
		{"batch", `[["a",{}],["b",null]]`, []string{`["a",{}]`, `["b",null]`}},
		{"not an array", `{"x":1}`, []string{`{"x":1}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sink, _ := openAdapter(t, nil)
			rec := httptest.NewRecorder()
			a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cable/conn-1", strings.NewReader(tt.body)))

			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d, want 204", rec.Code)
			}
			sink.mu.Lock()
			defer sink.mu.Unlock()
			if len(sink.messages) != len(tt.want) {
				t.Fatalf("messages = %v, want %v", sink.messages, tt.want)
			}
			for i := range tt.want {
				if sink.messages[i] != tt.want[i] {
					t.Errorf("messages[%d] = %s, want %s", i, sink.messages[i], tt.want[i])
				}
			}
		})
	}
}

func TestPostBodyTooLarge(t *testing.T) {
	a, sink, _ := openAdapter(t, &Config{MaxBodySize: 8})
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cable/conn-1", strings.NewReader(`["too_long",{}]`)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if len(sink.messages) != 0 {
		t.Errorf("messages = %v, want none", sink.messages)
	}
}

func TestDeleteCallsOnClose(t *testing.T) {
	a, sink, _ := openAdapter(t, nil)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cable/conn-1", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
	}
	if sink.closeCount() != 1 {
		t.Errorf("OnClose calls = %d, want 1", sink.closeCount())
	}
	if err := a.Send([]byte("x")); !errors.Is(err, transport.ErrAdapterClosed) {
		t.Errorf("Send() after DELETE error = %v, want ErrAdapterClosed", err)
	}
}

func TestIdleTimeoutCallsOnClose(t *testing.T) {
	_, sink, _ := openAdapter(t, &Config{IdleTimeout: 20 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for sink.closeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.closeCount() != 1 {
		t.Errorf("OnClose calls = %d, want 1", sink.closeCount())
	}
}

func TestServerCloseDoesNotCallOnClose(t *testing.T) {
	a, sink, _ := openAdapter(t, &Config{IdleTimeout: 20 * time.Millisecond})

	a.Send([]byte(`["bye",{}]`))
	a.Close()
	time.Sleep(40 * time.Millisecond)

	if sink.closeCount() != 0 {
		t.Errorf("OnClose calls = %d after server Close, want 0", sink.closeCount())
	}

	// The final poll still receives what was buffered; later polls are gone.
	if rec := poll(a); rec.Body.String() != `[["bye",{}]]` {
		t.Errorf("final poll body = %s, want the buffered message", rec.Body.String())
	}
	if rec := poll(a); rec.Code != http.StatusGone {
		t.Errorf("poll after close status = %d, want 410", rec.Code)
	}
}

func isDrained(a *Adapter) bool {
	select {
	case <-a.Drained():
		return true
	default:
		return false
	}
}

func TestDrainedAfterGonePoll(t *testing.T) {
	a, _, _ := openAdapter(t, nil)

	a.Send([]byte(`["bye",{}]`))
	a.Close()
	if isDrained(a) {
		t.Fatal("Drained() closed before the client collected its output")
	}

	poll(a)
	if isDrained(a) {
		t.Error("Drained() closed after the final batch, want it open until 410")
	}
	if rec := poll(a); rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	if !isDrained(a) {
		t.Error("Drained() still open after 410")
	}
}

func TestDrainedAfterPollTimeout(t *testing.T) {
	a, _, _ := openAdapter(t, &Config{PollTimeout: 20 * time.Millisecond})

	a.Send([]byte(`["bye",{}]`))
	a.Close()

	select {
	case <-a.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("Drained() did not close after PollTimeout")
	}
}

func TestDrainedAfterHangup(t *testing.T) {
	a, _, _ := openAdapter(t, nil)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cable/conn-1", nil))
	if !isDrained(a) {
		t.Error("Drained() still open after DELETE")
	}
}

func TestSendBufferFull(t *testing.T) {
	a, _, _ := openAdapter(t, &Config{MaxBuffered: 2})

	a.Send([]byte("1"))
	a.Send([]byte("2"))
	err := a.Send([]byte("3"))
	if !errors.Is(err, transport.ErrBufferFull) {
		t.Errorf("Send() error = %v, want ErrBufferFull", err)
	}
	var te *transport.TransportError
	if !errors.As(err, &te) || te.Kind != transport.KindPolling {
		t.Errorf("Send() error = %v, want polling TransportError", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	a, _, _ := openAdapter(t, nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/cable/conn-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestFactoryAccepts(t *testing.T) {
	f := NewFactory(nil, nil)
	tests := []struct {
		name string
		req  transport.Request
		want bool
	}{
		{"plain", transport.Request{}, true},
		{"polling hint", transport.Request{Transport: transport.KindPolling}, true},
		{"upgrade", transport.Request{Upgrade: true}, false},
		{"websocket hint", transport.Request{Transport: transport.KindWebSocket}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Accepts(&tt.req); got != tt.want {
				t.Errorf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{"nil", nil, true},
		{"defaults", DefaultConfig(), true},
		{"poll equals idle", &Config{PollTimeout: time.Minute, IdleTimeout: time.Minute}, false},
		{"poll beyond default idle", &Config{PollTimeout: 2 * time.Minute}, false},
		{"negative idle", &Config{IdleTimeout: -time.Second}, false},
		{"negative buffer", &Config{MaxBuffered: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
