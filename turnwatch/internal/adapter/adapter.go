// Package adapter bundles what differs between chat providers: where the
// conversation root lives, which nodes are message candidates, how a
// candidate's role is inferred, and the startup ping text. Adapters are
// immutable once compiled and may be shared; per-page state lives in the
// observer session.
package adapter

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// ErrUnknownPlatform is returned by Registry.Lookup.
var ErrUnknownPlatform = errors.New("adapter: unknown platform")

type locator struct {
	expr  string
	match cascadia.Matcher
}

// Adapter is a compiled platform definition.
type Adapter struct {
	Platform turn.Platform
	Ping     string

	roots      []locator
	candidates cascadia.Matcher
	classifier Classifier
}

// LocateRoot returns the first element matched by the prioritised root
// locators, and the locator that hit. It returns nil while nothing matches
// (the page may still be building its tree).
func (a *Adapter) LocateRoot(doc *html.Node) (*html.Node, string) {
	if doc == nil {
		return nil, ""
	}
	for _, l := range a.roots {
		if n := cascadia.Query(doc, l.match); n != nil {
			return n, l.expr
		}
	}
	return nil, ""
}

// Select returns candidate message nodes under root in document order.
func (a *Adapter) Select(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	return cascadia.QueryAll(root, a.candidates)
}

// Classify infers the role of the candidate at index within a scan.
func (a *Adapter) Classify(n *html.Node, index int) turn.Role {
	return a.classifier.Classify(Candidate{Node: n, Index: index})
}

// Registry holds compiled adapters by platform.
type Registry struct {
	mu       sync.RWMutex
	adapters map[turn.Platform]*Adapter
}

// NewRegistry compiles the built-in adapters plus extra definitions. An
// extra definition with a built-in name replaces it.
func NewRegistry(extra ...Definition) (*Registry, error) {
	r := &Registry{adapters: make(map[turn.Platform]*Adapter)}
	for _, def := range append(Builtins(), extra...) {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles def and adds it to the registry.
func (r *Registry) Register(def Definition) error {
	a, err := def.Compile()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.adapters[a.Platform] = a
	r.mu.Unlock()
	return nil
}

// Lookup returns the adapter for platform.
func (r *Registry) Lookup(platform turn.Platform) (*Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[turn.Platform(strings.ToLower(string(platform)))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return a, nil
}

// Platforms lists registered platforms in sorted order.
func (r *Registry) Platforms() []turn.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]turn.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
