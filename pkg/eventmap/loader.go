package eventmap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Route is one subscription line of a routing description.
type Route struct {
	Event      string `yaml:"event"`
	To         string `yaml:"to"`
	WithMethod string `yaml:"with_method"`
}

// Description is the YAML form of an EventMap:
//
//	subscriptions:
//	  - event: change_username
//	    to: chat
//	    with_method: change_username
//	namespaces:
//	  products:
//	    subscriptions:
//	      - event: update_list
//	        to: products
//	        with_method: update_list
//
// Namespaces may nest. Sibling namespaces are registered in name order,
// after the subscriptions of their parent.
type Description struct {
	Subscriptions []Route                 `yaml:"subscriptions"`
	Namespaces    map[string]*Description `yaml:"namespaces"`
}

// Flatten expands the description into subscription tuples.
func (d *Description) Flatten() []Subscription {
	var out []Subscription
	d.flatten(nil, &out)
	return out
}

func (d *Description) flatten(ns []string, out *[]Subscription) {
	if d == nil {
		return
	}
	for _, r := range d.Subscriptions {
		*out = append(*out, Subscription{
			Namespace: ns,
			Event:     r.Event,
			Target:    r.To,
			Method:    r.WithMethod,
		})
	}

	names := make([]string, 0, len(d.Namespaces))
	for name := range d.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := append(append([]string(nil), ns...), name)
		d.Namespaces[name].flatten(child, out)
	}
}

// FromYAML parses a routing description and builds a frozen EventMap.
func FromYAML(data []byte, opts ...Option) (*EventMap, error) {
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("eventmap: parse routes: %w", err)
	}
	return FromSubscriptions(desc.Flatten(), opts...)
}

// FromFile reads a YAML routing description from path.
func FromFile(path string, opts ...Option) (*EventMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eventmap: read routes: %w", err)
	}
	em, err := FromYAML(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return em, nil
}
