// Package eventmap maps namespace-qualified event names to controller actions.
//
// An EventMap is built once at startup, either through the Describe DSL or
// from a YAML routing description, and is read-only afterwards:
//
//	em, err := eventmap.Describe(func(m *eventmap.Mapper) {
//	    m.Subscribe("client_connected", "chat", "new_user")
//	    m.Subscribe("change_username", "chat", "change_username")
//	    m.Namespace("products", func(m *eventmap.Mapper) {
//	        m.Subscribe("update_list", "products", "update_list")
//	    })
//	})
//
// Resolution is an exact match on the qualified name. "products.update_list"
// only ever resolves to a subscription registered under the products
// namespace; it never falls back to a root-level "update_list".
//
// # Duplicates
//
// By default a second subscription for the same qualified name replaces the
// first and a warning is logged (PolicyOverwrite). WithPolicy(PolicyReject)
// turns duplicates into a *DuplicateSubscriptionError instead.
//
// # Rebuilding
//
// A Table holds the current EventMap behind an atomic pointer. Rebuilding
// means constructing a new EventMap and swapping it in; dispatch in progress
// keeps using the snapshot it loaded.
package eventmap
