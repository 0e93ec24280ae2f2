package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

// Targets registered by Register.
const (
	ChatTarget    = "chat"
	ProductTarget = "product"
)

// Events sent to clients.
const (
	EventUserList     = "user_list"
	EventUserRenamed  = "user_renamed"
	EventError        = "error"
	EventProductsList = "products.list"
)

// userNameKey is the connection data key holding the chat name.
const userNameKey = "user_name"

// maxUserNameLen bounds user names.
const maxUserNameLen = 32

// ErrInvalidUserName is returned by change_username for an empty or
// oversized name.
var ErrInvalidUserName = errors.New("chat: invalid user name")

// ChatController handles the chat room events. A new instance is built for
// every dispatch; state lives in the Room and in the connection data store.
type ChatController struct {
	room *Room
}

// Invoke runs method.
func (c *ChatController) Invoke(method string, ctx *server.Context) error {
	switch method {
	case "new_user":
		return c.newUser(ctx)
	case "change_username":
		return c.changeUsername(ctx)
	case "error_occurred":
		return c.errorOccurred(ctx)
	case "delete_user":
		return c.deleteUser(ctx)
	case "update_user_list":
		return c.updateUserList(ctx)
	default:
		return fmt.Errorf("%w: %q", server.ErrUnknownAction, method)
	}
}

func (c *ChatController) newUser(ctx *server.Context) error {
	conn := ctx.Connection()
	name := "guest-" + shortID(conn.ID())
	conn.Set(userNameKey, name)
	c.room.Join(conn.ID(), name)

	ctx.Logger().Info("user joined", "user_name", name)
	return ctx.Broadcast(EventUserList, c.userList())
}

func (c *ChatController) changeUsername(ctx *server.Context) error {
	name, _ := ctx.Param(userNameKey).(string)
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxUserNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidUserName, name)
	}

	conn := ctx.Connection()
	previous := conn.GetString(userNameKey)
	conn.Set(userNameKey, name)
	c.room.Join(conn.ID(), name)

	if err := ctx.Broadcast(EventUserRenamed, map[string]any{
		"from": previous,
		"to":   name,
	}); err != nil {
		return err
	}
	return ctx.Broadcast(EventUserList, c.userList())
}

// errorOccurred reports a failure back to the client while the connection
// is still open. A transport error ends the connection without a
// client_disconnected, so the user leaves the room here.
func (c *ChatController) errorOccurred(ctx *server.Context) error {
	desc, _ := ctx.Param("error").(string)
	ctx.Logger().Warn("client error", "error", desc, "failed_event", ctx.Param("event"))

	if !ctx.Connection().IsOpen() {
		return c.deleteUser(ctx)
	}
	err := ctx.Send(EventError, map[string]any{"message": desc})
	if errors.Is(err, server.ErrConnectionClosed) {
		return nil
	}
	return err
}

func (c *ChatController) deleteUser(ctx *server.Context) error {
	conn := ctx.Connection()
	if !c.room.Leave(conn.ID()) {
		return nil
	}
	ctx.Logger().Info("user left", "user_name", conn.GetString(userNameKey))
	return ctx.Broadcast(EventUserList, c.userList())
}

func (c *ChatController) updateUserList(ctx *server.Context) error {
	return ctx.Send(EventUserList, c.userList())
}

func (c *ChatController) userList() map[string]any {
	users := c.room.Users()
	list := make([]any, len(users))
	for i, u := range users {
		list[i] = u
	}
	return map[string]any{"users": list}
}

// productActions handles the products namespace.
func productActions(catalog *Catalog) server.Actions {
	return server.Actions{
		"update_list": func(ctx *server.Context) error {
			product, _ := ctx.Param("product").(string)
			var products []string
			if product == "" {
				products = catalog.Products()
			} else {
				products = catalog.Add(product)
			}
			list := make([]any, len(products))
			for i, p := range products {
				list[i] = p
			}
			return ctx.Broadcast(EventProductsList, map[string]any{"products": list})
		},
	}
}

// Register installs the chat and product controllers.
func Register(controllers *server.Controllers, room *Room, catalog *Catalog) {
	controllers.Register(ChatTarget, func() server.Controller {
		return &ChatController{room: room}
	})
	controllers.RegisterActions(ProductTarget, productActions(catalog))
}

// Routes returns the routing table the controllers expect.
func Routes(opts ...eventmap.Option) (*eventmap.EventMap, error) {
	return eventmap.Describe(func(m *eventmap.Mapper) {
		m.Subscribe(server.ClientConnected, ChatTarget, "new_user")
		m.Subscribe("change_username", ChatTarget, "change_username")
		m.Subscribe(server.ClientError, ChatTarget, "error_occurred")
		m.Subscribe(server.ClientDisconnected, ChatTarget, "delete_user")
		m.Subscribe("update_list", ChatTarget, "update_user_list")

		m.Namespace("products", func(m *eventmap.Mapper) {
			m.Subscribe("update_list", ProductTarget, "update_list")
		})
	}, opts...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
