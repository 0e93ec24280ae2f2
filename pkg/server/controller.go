package server

import (
	"fmt"
	"sort"
	"sync"
)

// Controller handles the events routed to one target. A fresh Controller is
// built for every dispatch, so implementations may keep per-event state in
// their fields.
type Controller interface {
	// Invoke runs the action named by method.
	Invoke(method string, ctx *Context) error
}

// ControllerFactory builds a Controller for one dispatch.
type ControllerFactory func() Controller

// Action is one controller method.
type Action func(ctx *Context) error

// Actions is a Controller backed by a method-name → action map.
//
//	server.Actions{
//	    "new_user":        c.NewUser,
//	    "change_username": c.ChangeUsername,
//	}
type Actions map[string]Action

// Invoke runs the named action, or fails with ErrUnknownAction.
func (a Actions) Invoke(method string, ctx *Context) error {
	action, ok := a[method]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, method)
	}
	return action(ctx)
}

// Controllers maps subscription targets to controller factories. It is
// filled at startup and read during dispatch.
type Controllers struct {
	mu        sync.RWMutex
	factories map[string]ControllerFactory
}

// NewControllers creates an empty registry.
func NewControllers() *Controllers {
	return &Controllers{factories: make(map[string]ControllerFactory)}
}

// Register binds target to factory, replacing any earlier binding.
func (c *Controllers) Register(target string, factory ControllerFactory) {
	if factory == nil {
		panic("server: nil controller factory for " + target)
	}
	c.mu.Lock()
	c.factories[target] = factory
	c.mu.Unlock()
}

// RegisterActions binds target to a factory returning the same Actions.
// Suitable for stateless controllers.
func (c *Controllers) RegisterActions(target string, actions Actions) {
	c.Register(target, func() Controller { return actions })
}

// Build returns a fresh controller for target.
func (c *Controllers) Build(target string) (Controller, error) {
	c.mu.RLock()
	factory, ok := c.factories[target]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	return factory(), nil
}

// Has reports whether target is registered.
func (c *Controllers) Has(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.factories[target]
	return ok
}

// Targets returns the registered targets in sorted order.
func (c *Controllers) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for t := range c.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
