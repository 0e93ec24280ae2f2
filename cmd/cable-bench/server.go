package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

// Events exchanged with the bench controller.
const (
	eventEcho    = "bench.echo"
	eventEchoed  = "bench.echoed"
	eventShout   = "bench.shout"
	eventShouted = "bench.shouted"
)

const benchTarget = "bench"

// benchActions echoes tokens back to the sender, or to every client for a
// shout.
func benchActions() server.Actions {
	return server.Actions{
		"echo": func(ctx *server.Context) error {
			return ctx.Send(eventEchoed, map[string]any{"token": ctx.Param("token")})
		},
		"shout": func(ctx *server.Context) error {
			return ctx.Broadcast(eventShouted, map[string]any{
				"token": ctx.Param("token"),
				"from":  ctx.Connection().ID(),
			})
		},
	}
}

func benchRoutes() (*eventmap.EventMap, error) {
	return eventmap.Describe(func(m *eventmap.Mapper) {
		m.Namespace("bench", func(m *eventmap.Mapper) {
			m.Subscribe("echo", benchTarget, "echo")
			m.Subscribe("shout", benchTarget, "shout")
		})
	})
}

// benchServer is an in-process cable server on a loopback listener.
type benchServer struct {
	srv  *server.Server
	addr string
	done chan error
}

func startServer(ctx context.Context, clients int) (*benchServer, error) {
	routes, err := benchRoutes()
	if err != nil {
		return nil, err
	}
	controllers := server.NewControllers()
	controllers.RegisterActions(benchTarget, benchActions())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := server.NewDispatcher(routes, controllers, logger)

	cfg := server.DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.MaxConnections = clients * 2
	srv := server.New(dispatcher, cfg, logger)

	ln, err := net.Listen("tcp4", cfg.Address)
	if err != nil {
		return nil, err
	}

	b := &benchServer{
		srv:  srv,
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	go func() {
		b.done <- srv.Serve(ctx, ln)
	}()
	return b, nil
}

// URL returns the websocket endpoint.
func (b *benchServer) URL() string {
	return "ws://" + b.addr + b.srv.Config().Path
}

// Stop shuts the server down and waits for Serve to return.
func (b *benchServer) Stop(ctx context.Context) error {
	if err := b.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-b.done
}
