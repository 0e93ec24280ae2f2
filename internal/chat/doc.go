// Package chat contains the demo controllers served by "cable serve": a chat
// room that tracks user names per connection and a product list under the
// products namespace.
//
// The routes they expect are in Routes and in the routes.yaml shipped at the
// repository root.
package chat
