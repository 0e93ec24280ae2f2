package chat

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/cable/pkg/server"
	"github.com/vango-dev/cable/pkg/transport"
	"github.com/vango-dev/cable/pkg/transport/transporttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type harness struct {
	room    *Room
	catalog *Catalog
	factory *transporttest.Factory
	manager *server.ConnectionManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	routes, err := Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}

	h := &harness{
		room:    NewRoom(),
		catalog: NewCatalog("jetpack"),
		factory: transporttest.NewFactory(),
	}
	controllers := server.NewControllers()
	Register(controllers, h.room, h.catalog)

	d := server.NewDispatcher(routes, controllers, testLogger())
	h.manager = server.NewConnectionManager(d, server.DefaultConnectionConfig(), testLogger(), h.factory)
	t.Cleanup(func() { _ = h.manager.Shutdown(context.Background()) })
	return h
}

func (h *harness) join(t *testing.T) (*server.Connection, *transporttest.Adapter) {
	t.Helper()
	conn, err := h.manager.Accept(context.Background(), &transport.Request{RemoteAddr: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return conn, h.factory.Last()
}

// waitMessage waits for a sent message named name that satisfies match.
func waitMessage(t *testing.T, a *transporttest.Adapter, name string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, msg := range a.SentMessages() {
			if msg.Name == name && (match == nil || match(msg.Data)) {
				return msg.Data
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q message matched; sent: %v", name, a.SentMessages())
	return nil
}

func users(data map[string]any) []string {
	raw, _ := data["users"].([]any)
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		s, _ := u.(string)
		out = append(out, s)
	}
	return out
}

func hasUsers(n int) func(map[string]any) bool {
	return func(data map[string]any) bool { return len(users(data)) == n }
}

func TestNewUserBroadcastsList(t *testing.T) {
	h := newHarness(t)

	c1, a1 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(1))

	_, a2 := h.join(t)
	waitMessage(t, a2, EventUserList, hasUsers(2))
	waitMessage(t, a1, EventUserList, hasUsers(2))

	name := c1.GetString(userNameKey)
	if !strings.HasPrefix(name, "guest-") {
		t.Errorf("user_name = %q, want guest- prefix", name)
	}
	if h.room.Len() != 2 {
		t.Errorf("room.Len() = %d, want 2", h.room.Len())
	}
}

func TestChangeUsername(t *testing.T) {
	h := newHarness(t)
	c1, a1 := h.join(t)
	_, a2 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(2))

	a1.DeliverMessage("change_username", map[string]any{"user_name": "Joe User"})

	renamed := waitMessage(t, a2, EventUserRenamed, nil)
	if renamed["to"] != "Joe User" {
		t.Errorf("user_renamed.to = %v, want Joe User", renamed["to"])
	}
	waitMessage(t, a2, EventUserList, func(data map[string]any) bool {
		for _, u := range users(data) {
			if u == "Joe User" {
				return true
			}
		}
		return false
	})

	if got := c1.GetString(userNameKey); got != "Joe User" {
		t.Errorf("connection user_name = %q, want Joe User", got)
	}
}

func TestChangeUsernameInvalid(t *testing.T) {
	h := newHarness(t)
	c1, a1 := h.join(t)
	waitMessage(t, a1, EventUserList, nil)

	a1.DeliverMessage("change_username", map[string]any{"user_name": "  "})

	data := waitMessage(t, a1, EventError, nil)
	msg, _ := data["message"].(string)
	if !strings.Contains(msg, "invalid user name") {
		t.Errorf("error.message = %q, want invalid user name", msg)
	}
	if !c1.IsOpen() {
		t.Error("connection closed after handler error")
	}
}

func TestProductsNamespace(t *testing.T) {
	h := newHarness(t)
	_, a1 := h.join(t)
	_, a2 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(2))
	before := len(a1.SentMessages())

	a1.DeliverMessage("products.update_list", map[string]any{"product": "x-ray-vision"})

	data := waitMessage(t, a2, EventProductsList, nil)
	want := []any{"jetpack", "x-ray-vision"}
	if !reflect.DeepEqual(data["products"], want) {
		t.Errorf("products = %v, want %v", data["products"], want)
	}

	// The namespaced event must not reach the root update_list handler.
	waitMessage(t, a1, EventProductsList, nil)
	for _, msg := range a1.SentMessages()[before:] {
		if msg.Name == EventUserList {
			t.Errorf("root update_list handler ran for products.update_list")
		}
	}
}

func TestUpdateUserListRepliesToSender(t *testing.T) {
	h := newHarness(t)
	_, a1 := h.join(t)
	_, a2 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(2))
	waitMessage(t, a2, EventUserList, hasUsers(2))
	sentToA1 := len(a1.Sent())
	sentToA2 := len(a2.Sent())

	a1.DeliverMessage("update_list", nil)

	if _, ok := a1.WaitSent(sentToA1+1, time.Second); !ok {
		t.Fatal("sender received no reply")
	}
	time.Sleep(20 * time.Millisecond)
	if got := len(a2.Sent()); got != sentToA2 {
		t.Errorf("other connection received %d new messages, want 0", got-sentToA2)
	}
}

func TestDeleteUser(t *testing.T) {
	h := newHarness(t)
	_, a1 := h.join(t)
	c2, a2 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(2))

	a2.Hangup()
	<-c2.Done()

	if h.room.Len() != 1 {
		t.Errorf("room.Len() = %d, want 1", h.room.Len())
	}
	if _, ok := h.room.Name(c2.ID()); ok {
		t.Error("departed user still in room")
	}
	// The departure broadcast is sent before Done closes.
	msgs := a1.SentMessages()
	last := msgs[len(msgs)-1]
	if last.Name != EventUserList || len(users(last.Data)) != 1 {
		t.Errorf("last message = %s %v, want user_list with 1 user", last.Name, last.Data)
	}
}

func TestTransportErrorRemovesUser(t *testing.T) {
	h := newHarness(t)
	c1, a1 := h.join(t)
	_, a2 := h.join(t)
	waitMessage(t, a1, EventUserList, hasUsers(2))
	sent := len(a1.Sent())

	a1.Fail(os.ErrDeadlineExceeded)
	<-c1.Done()

	if got := len(a1.Sent()); got != sent {
		t.Errorf("sent %d messages after transport error, want 0", got-sent)
	}
	if _, ok := h.room.Name(c1.ID()); ok {
		t.Error("user still listed after transport error")
	}
	waitMessage(t, a2, EventUserList, hasUsers(1))
}

func TestUnknownMethod(t *testing.T) {
	c := &ChatController{room: NewRoom()}
	if err := c.Invoke("nope", nil); err == nil {
		t.Fatal("Invoke(nope) error = nil")
	}
}

func TestRoutes(t *testing.T) {
	routes, err := Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}
	tests := []struct {
		event   string
		handler string
	}{
		{server.ClientConnected, "chat#new_user"},
		{"change_username", "chat#change_username"},
		{server.ClientError, "chat#error_occurred"},
		{server.ClientDisconnected, "chat#delete_user"},
		{"update_list", "chat#update_user_list"},
		{"products.update_list", "product#update_list"},
	}
	for _, tt := range tests {
		sub, err := routes.Resolve(tt.event)
		if err != nil {
			t.Errorf("Resolve(%q) error = %v", tt.event, err)
			continue
		}
		if sub.Handler() != tt.handler {
			t.Errorf("Resolve(%q) = %s, want %s", tt.event, sub.Handler(), tt.handler)
		}
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog("a")
	c.Add("b")
	got := c.Add("a")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Add() = %v, want [a b]", got)
	}
	products := c.Products()
	products[0] = "mutated"
	if c.Products()[0] != "a" {
		t.Error("Products() returned internal slice")
	}
}
