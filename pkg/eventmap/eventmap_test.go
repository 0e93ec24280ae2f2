package eventmap

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func chatMap(t *testing.T, opts ...Option) *EventMap {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	em, err := Describe(func(m *Mapper) {
		m.Subscribe("change_username", "chat", "change_username")
		m.Subscribe("update_list", "chat", "update_user_list")
		m.Namespace("products", func(m *Mapper) {
			m.Subscribe("update_list", "products", "update_list")
		})
	}, opts...)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	return em
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		sub  Subscription
		want string
	}{
		{Subscription{Event: "ping"}, "ping"},
		{Subscription{Namespace: []string{"products"}, Event: "update_list"}, "products.update_list"},
		{Subscription{Namespace: []string{"a", "b"}, Event: "c"}, "a.b.c"},
	}
	for _, tt := range tests {
		if got := tt.sub.QualifiedName(); got != tt.want {
			t.Errorf("QualifiedName() = %q, want %q", got, tt.want)
		}
	}
}

func TestResolveExactMatch(t *testing.T) {
	em := chatMap(t)

	sub, err := em.Resolve("products.update_list")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sub.Target != "products" || sub.Method != "update_list" {
		t.Errorf("Resolve(products.update_list) = %s, want products#update_list", sub.Handler())
	}

	sub, err = em.Resolve("update_list")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if sub.Target != "chat" || sub.Method != "update_user_list" {
		t.Errorf("Resolve(update_list) = %s, want chat#update_user_list", sub.Handler())
	}
}

func TestResolveNeverFallsBackAcrossNamespaces(t *testing.T) {
	em, err := Describe(func(m *Mapper) {
		m.Subscribe("update_list", "chat", "update_user_list")
		m.Namespace("orders", func(m *Mapper) {
			m.Subscribe("create", "orders", "create")
		})
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	if _, err := em.Resolve("products.update_list"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(products.update_list) error = %v, want ErrNotFound", err)
	}
	if _, err := em.Resolve("create"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(create) error = %v, want ErrNotFound", err)
	}

	var nf *NotFoundError
	_, err = em.Resolve("missing")
	if !errors.As(err, &nf) || nf.Name != "missing" {
		t.Errorf("Resolve(missing) error = %v, want *NotFoundError{Name: missing}", err)
	}
}

func TestOverwritePolicyKeepsPosition(t *testing.T) {
	em := New(WithLogger(testLogger()))
	mustSubscribe(t, em, nil, "a", "x", "one")
	mustSubscribe(t, em, nil, "b", "x", "two")
	mustSubscribe(t, em, nil, "a", "y", "three")

	if em.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", em.Len())
	}
	subs := em.Subscriptions()
	if subs[0].Event != "a" || subs[0].Handler() != "y#three" {
		t.Errorf("subs[0] = %+v, want a -> y#three", subs[0])
	}
	if subs[1].Event != "b" {
		t.Errorf("subs[1] = %+v, want b", subs[1])
	}
}

func TestRejectPolicy(t *testing.T) {
	em := New(WithLogger(testLogger()), WithPolicy(PolicyReject))
	mustSubscribe(t, em, []string{"products"}, "update_list", "products", "update_list")

	err := em.Subscribe([]string{"products"}, "update_list", "other", "update")
	var dup *DuplicateSubscriptionError
	if !errors.As(err, &dup) {
		t.Fatalf("Subscribe() error = %v, want *DuplicateSubscriptionError", err)
	}
	if dup.Existing.Handler() != "products#update_list" || dup.Rejected.Handler() != "other#update" {
		t.Errorf("dup = %+v", dup)
	}

	// Same event name under a different namespace is not a duplicate.
	if err := em.Subscribe(nil, "update_list", "chat", "update_user_list"); err != nil {
		t.Errorf("root update_list error = %v, want nil", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	em := New(WithLogger(testLogger()))
	tests := []struct {
		name string
		sub  Subscription
	}{
		{"missing event", Subscription{Target: "t", Method: "m"}},
		{"missing target", Subscription{Event: "e", Method: "m"}},
		{"missing method", Subscription{Event: "e", Target: "t"}},
		{"dotted event", Subscription{Event: "a.b", Target: "t", Method: "m"}},
		{"empty segment", Subscription{Namespace: []string{""}, Event: "e", Target: "t", Method: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := em.Add(tt.sub); !errors.Is(err, ErrInvalidSubscription) {
				t.Errorf("Add() error = %v, want ErrInvalidSubscription", err)
			}
		})
	}
}

func TestFrozenMapRejectsSubscribe(t *testing.T) {
	em := chatMap(t)
	if !em.Frozen() {
		t.Fatal("Describe() should return a frozen map")
	}
	if err := em.Subscribe(nil, "late", "chat", "late"); !errors.Is(err, ErrFrozen) {
		t.Errorf("Subscribe() error = %v, want ErrFrozen", err)
	}
}

func TestSubscribeCopiesNamespace(t *testing.T) {
	em := New(WithLogger(testLogger()))
	ns := []string{"products"}
	mustSubscribe(t, em, ns, "update_list", "products", "update_list")
	ns[0] = "mutated"

	if _, err := em.Resolve("products.update_list"); err != nil {
		t.Errorf("Resolve() error = %v after caller mutated namespace slice", err)
	}
}

func TestNestedNamespaces(t *testing.T) {
	em, err := Describe(func(m *Mapper) {
		m.Namespace("products", func(m *Mapper) {
			m.Namespace("admin", func(m *Mapper) {
				m.Subscribe("purge", "admin", "purge")
			})
			m.Subscribe("update_list", "products", "update_list")
		})
	}, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if !em.Has("products.admin.purge") {
		t.Error("products.admin.purge should be registered")
	}
	if !em.Has("products.update_list") {
		t.Error("products.update_list should be registered after nested namespace")
	}
}

func TestDescribeStopsAtFirstError(t *testing.T) {
	_, err := Describe(func(m *Mapper) {
		m.Subscribe("a", "t", "m")
		m.Subscribe("a", "t", "m2")
		m.Subscribe("", "t", "m")
	}, WithLogger(testLogger()), WithPolicy(PolicyReject))

	var dup *DuplicateSubscriptionError
	if !errors.As(err, &dup) {
		t.Errorf("Describe() error = %v, want the first (duplicate) error", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyOverwrite, false},
		{"overwrite", PolicyOverwrite, false},
		{"Reject", PolicyReject, false},
		{"explode", PolicyOverwrite, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func mustSubscribe(t *testing.T, em *EventMap, ns []string, event, target, method string) {
	t.Helper()
	if err := em.Subscribe(ns, event, target, method); err != nil {
		t.Fatalf("Subscribe(%v, %q) error = %v", ns, event, err)
	}
}
