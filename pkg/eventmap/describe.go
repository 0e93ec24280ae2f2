package eventmap

// Mapper is the receiver of the Describe DSL. It records the first error and
// ignores later calls once one has occurred.
type Mapper struct {
	em        *EventMap
	namespace []string
	err       error
}

// Subscribe routes event, within the current namespace, to target#method.
func (m *Mapper) Subscribe(event, target, method string) {
	if m.err != nil {
		return
	}
	m.err = m.em.Subscribe(m.namespace, event, target, method)
}

// Namespace describes the subscriptions nested under name.
// Namespaces nest: Namespace("admin", ...) inside Namespace("products", ...)
// yields the "products.admin." prefix.
func (m *Mapper) Namespace(name string, fn func(*Mapper)) {
	if m.err != nil {
		return
	}
	child := &Mapper{
		em:        m.em,
		namespace: append(append([]string(nil), m.namespace...), name),
	}
	fn(child)
	if child.err != nil {
		m.err = child.err
	}
}

// Describe builds a frozen EventMap from a declarative description.
func Describe(fn func(*Mapper), opts ...Option) (*EventMap, error) {
	m := &Mapper{em: New(opts...)}
	fn(m)
	if m.err != nil {
		return nil, m.err
	}
	return m.em.Freeze(), nil
}
