// Package dom holds a live, mutable HTML tree with MutationObserver-style
// subscriptions. Node identity is pointer identity: a *html.Node stays the
// same value for as long as the element lives in the tree, which is what the
// scan engine keys its dedup table on.
//
// A Document is the only structure shared between goroutines in turnwatch.
// Writers go through Update, readers through View; observer callbacks run
// after the write lock is released so they may freely call View.
package dom

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/html"
)

// ReadyState mirrors document.readyState.
type ReadyState int

const (
	Loading ReadyState = iota
	Interactive
	Complete
)

func (s ReadyState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Interactive:
		return "interactive"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// ParseReadyState maps a document.readyState string. Unknown values are
// treated as still loading.
func ParseReadyState(s string) ReadyState {
	switch s {
	case "interactive":
		return Interactive
	case "complete":
		return Complete
	default:
		return Loading
	}
}

// Document is a live HTML tree.
type Document struct {
	mu     sync.RWMutex
	node   *html.Node
	state  ReadyState
	ready  chan struct{}
	regs   []*registration
	nextID uint64
}

// New returns an empty document in the Loading state.
func New() *Document {
	return &Document{
		node:  &html.Node{Type: html.DocumentNode},
		ready: make(chan struct{}),
	}
}

// Parse builds a complete document from HTML source.
func Parse(r io.Reader) (*Document, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := New()
	d.node = n
	d.SetReadyState(Complete)
	return d, nil
}

// ReadyState returns the current lifecycle state.
func (d *Document) ReadyState() ReadyState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetReadyState advances the lifecycle state. It never moves backwards.
func (d *Document) SetReadyState(s ReadyState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s <= d.state {
		return
	}
	prev := d.state
	d.state = s
	if prev < Interactive && s >= Interactive {
		close(d.ready)
	}
}

// Ready is closed once the document is interactive.
func (d *Document) Ready() <-chan struct{} {
	return d.ready
}

// View runs fn with the document node under the read lock. fn must not
// retain nodes for mutation outside Update.
func (d *Document) View(fn func(doc *html.Node)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.node)
}

// Attached reports whether n is currently reachable from the document node.
func (d *Document) Attached(n *html.Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return contains(d.node, n)
}

// Update runs fn under the write lock. Mutation records produced through tx
// are delivered to observers after the lock is released, even if fn
// returns an error part-way.
func (d *Document) Update(fn func(tx *Tx) error) error {
	d.mu.Lock()
	tx := &Tx{doc: d, pending: make(map[*registration][]Record)}
	err := fn(tx)
	deliveries := tx.deliveries()
	d.mu.Unlock()

	for _, dl := range deliveries {
		dl.reg.cb(dl.records)
	}
	return err
}

func contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
