package server

// Middleware wraps handler invocation. Call next to continue the chain; the
// error returned by next is the handler's.
type Middleware interface {
	Handle(ctx *Context, next func() error) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx *Context, next func() error) error

// Handle calls f.
func (f MiddlewareFunc) Handle(ctx *Context, next func() error) error {
	return f(ctx, next)
}

// ComposeMiddleware builds a handler chain from middleware and a final handler.
// Middleware is executed in order (first to last), with the handler at the end.
func ComposeMiddleware(ctx *Context, mw []Middleware, handler func() error) error {
	if len(mw) == 0 {
		return handler()
	}

	chain := handler
	for i := len(mw) - 1; i >= 0; i-- {
		m := mw[i]
		next := chain
		chain = func() error {
			return m.Handle(ctx, next)
		}
	}

	return chain()
}

// Chain creates a middleware that combines multiple middleware in order.
func Chain(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(ctx *Context, next func() error) error {
		return ComposeMiddleware(ctx, middleware, next)
	})
}

// Skip bypasses mw when condition holds.
func Skip(condition func(ctx *Context) bool, mw Middleware) Middleware {
	return MiddlewareFunc(func(ctx *Context, next func() error) error {
		if condition(ctx) {
			return next()
		}
		return mw.Handle(ctx, next)
	})
}

// Only runs mw when condition holds.
func Only(condition func(ctx *Context) bool, mw Middleware) Middleware {
	return MiddlewareFunc(func(ctx *Context, next func() error) error {
		if !condition(ctx) {
			return next()
		}
		return mw.Handle(ctx, next)
	})
}

// LifecycleOnly matches lifecycle events.
func LifecycleOnly(ctx *Context) bool {
	return ctx.Event().Internal()
}
