package chat

import (
	"sort"
	"sync"
)

// Room tracks the user name of every connected chat client. It is shared by
// all ChatController instances.
type Room struct {
	mu    sync.RWMutex
	users map[string]string // conn id -> user name
}

// NewRoom creates an empty room.
func NewRoom() *Room {
	return &Room{users: make(map[string]string)}
}

// Join records connID under name, replacing any earlier name.
func (r *Room) Join(connID, name string) {
	r.mu.Lock()
	r.users[connID] = name
	r.mu.Unlock()
}

// Leave forgets connID. It reports whether the connection was present.
func (r *Room) Leave(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[connID]
	delete(r.users, connID)
	return ok
}

// Name returns the user name for connID.
func (r *Room) Name(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.users[connID]
	return name, ok
}

// Users returns the sorted user names.
func (r *Room) Users() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.users))
	for _, name := range r.users {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of users.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Catalog is the product list edited through products.update_list.
type Catalog struct {
	mu       sync.Mutex
	products []string
}

// NewCatalog creates a catalog holding products.
func NewCatalog(products ...string) *Catalog {
	return &Catalog{products: append([]string(nil), products...)}
}

// Add appends product unless it is already listed, and returns the list.
func (c *Catalog) Add(product string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.products {
		if p == product {
			return append([]string(nil), c.products...)
		}
	}
	c.products = append(c.products, product)
	return append([]string(nil), c.products...)
}

// Products returns a copy of the list.
func (c *Catalog) Products() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.products...)
}
