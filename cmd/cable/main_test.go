package main

import (
	"bytes"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vango-dev/cable/internal/errors"
)

const chatRoutes = `
subscriptions:
  - event: client_connected
    to: chat
    with_method: new_user
  - event: change_username
    to: chat
    with_method: change_username
namespaces:
  products:
    subscriptions:
      - event: update_list
        to: product
        with_method: update_list
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionShort(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if strings.TrimSpace(out) != version {
		t.Errorf("version --short = %q, want %q", out, version)
	}
}

func TestRoutesCommand(t *testing.T) {
	routes := writeFile(t, t.TempDir(), "routes.yaml", chatRoutes)

	out, err := run(t, "routes", "--routes", routes)
	if err != nil {
		t.Fatalf("routes error = %v", err)
	}
	for _, want := range []string{
		"change_username",
		"chat#change_username",
		"products.update_list",
		"product#update_list",
		"3 routes (policy: overwrite)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("routes output missing %q:\n%s", want, out)
		}
	}
}

func TestRoutesCommandErrors(t *testing.T) {
	dir := t.TempDir()
	duplicate := writeFile(t, dir, "dup.yaml", `
subscriptions:
  - event: change_username
    to: chat
    with_method: change_username
  - event: change_username
    to: chat
    with_method: new_user
`)
	unknown := writeFile(t, dir, "unknown.yaml", `
subscriptions:
  - event: ping
    to: billing
    with_method: ping
`)
	broken := writeFile(t, dir, "broken.yaml", "subscriptions: [\n")

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"missing file", []string{"routes", "--routes", filepath.Join(dir, "nope.yaml")}, "E120"},
		{"parse error", []string{"routes", "--routes", broken}, "E121"},
		{"duplicate under reject", []string{"routes", "--routes", duplicate, "--policy", "reject"}, "E122"},
		{"unknown target", []string{"routes", "--routes", unknown}, "E124"},
		{"bad policy", []string{"routes", "--routes", duplicate, "--policy", "merge"}, "E102"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			var ce *errors.CableError
			if !stderrors.As(err, &ce) {
				t.Fatalf("error = %v, want *CableError", err)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q (%v)", ce.Code, tt.wantCode, err)
			}
		})
	}
}

func TestRoutesCommandDuplicateOverwrites(t *testing.T) {
	routes := writeFile(t, t.TempDir(), "routes.yaml", `
subscriptions:
  - event: change_username
    to: chat
    with_method: change_username
  - event: change_username
    to: chat
    with_method: new_user
`)
	out, err := run(t, "routes", "--routes", routes)
	if err != nil {
		t.Fatalf("routes error = %v", err)
	}
	if !strings.Contains(out, "chat#new_user") || !strings.Contains(out, "1 routes") {
		t.Errorf("later subscription did not win:\n%s", out)
	}
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(newLogExporter(logger)))

	_, span := tp.Tracer("test").Start(t.Context(), "cable.change_username")
	span.SetAttributes(attribute.String("cable.handler", "chat#change_username"))
	span.End()

	out := buf.String()
	for _, want := range []string{"span=cable.change_username", "cable.handler=chat#change_username", "component=tracing"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
