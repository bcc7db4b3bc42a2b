// CLAUDE:SUMMARY Mirrors a browser page's DOM into a dom.Document by replaying CDP DOM events, one *html.Node per CDP node id.
// Package mirror keeps a dom.Document in step with a live browser page.
// The page's DOM is fetched once with DOM.getDocument (depth -1, pierce)
// and every subsequent CDP DOM event is replayed as a dom.Tx mutation, so
// each CDP node id maps to one stable *html.Node for as long as the page
// keeps the element.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
)

// readyPoll is the interval at which document.readyState is polled until
// the page is interactive.
const readyPoll = 100 * time.Millisecond

// Mirror replays CDP DOM events for one page.
type Mirror struct {
	page   *rod.Page
	doc    *dom.Document
	logger *slog.Logger

	// rebuildMu keeps rebuilds one at a time.
	rebuildMu sync.Mutex

	// mu serialises event application with document rebuilds.
	mu    sync.Mutex
	nodes *nodeMap
	// While rebuilding, events are queued and replayed against the new
	// node map once the snapshot is installed. Events already reflected in
	// the snapshot replay idempotently.
	rebuilding bool
	pending    []func()

	// request asks the browser for the full subtree of a node whose
	// children were not reported. Replaced in tests.
	request func(id proto.DOMNodeID)
	// fetch returns the whole document. Replaced in tests.
	fetch func() (*proto.DOMNode, error)
}

// New creates a Mirror for page. Start begins mirroring.
func New(page *rod.Page, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		page:   page,
		doc:    dom.New(),
		logger: logger,
		nodes:  newNodeMap(),
	}
	m.request = m.requestChildren
	m.fetch = m.getDocument
	return m
}

// Document returns the mirrored document.
func (m *Mirror) Document() *dom.Document { return m.doc }

// Start enables the DOM domain, subscribes to DOM events, loads the
// initial tree and follows document.readyState. Event handling runs until
// ctx is cancelled.
func (m *Mirror) Start(ctx context.Context) error {
	page := m.page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return fmt.Errorf("mirror: DOM.enable: %w", err)
	}

	// Subscribe before the initial fetch so no event falls in between.
	wait := page.EachEvent(
		func(e *proto.DOMSetChildNodes) { m.onSetChildNodes(e) },
		func(e *proto.DOMChildNodeInserted) { m.onInserted(e) },
		func(e *proto.DOMChildNodeRemoved) { m.onRemoved(e) },
		func(e *proto.DOMChildNodeCountUpdated) { m.onCountUpdated(e) },
		func(e *proto.DOMCharacterDataModified) { m.onCharacterData(e) },
		func(e *proto.DOMAttributeModified) { m.onAttribute(e) },
		func(e *proto.DOMAttributeRemoved) { m.onAttributeRemoved(e) },
		func(e *proto.DOMDocumentUpdated) { go m.rebuild() },
	)
	go wait()

	if err := m.rebuild(); err != nil {
		return err
	}
	go m.followReadyState(ctx)
	return nil
}

// rebuild replaces the mirrored tree with a fresh DOM.getDocument result.
// Observers receive a reset record.
func (m *Mirror) rebuild() error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.mu.Lock()
	m.rebuilding = true
	m.mu.Unlock()

	root, err := m.fetch()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.replayLocked()

	if err != nil {
		m.logger.Warn("mirror: getDocument failed", "error", err)
		return fmt.Errorf("mirror: DOM.getDocument: %w", err)
	}
	var missing []proto.DOMNodeID
	fresh := newNodeMap()
	doc := fresh.build(root, &missing)
	if doc == nil || doc.Type != html.DocumentNode {
		return fmt.Errorf("mirror: root is not a document")
	}
	if err := m.doc.Update(func(tx *dom.Tx) error { return tx.Reset(doc) }); err != nil {
		return fmt.Errorf("mirror: reset: %w", err)
	}
	m.nodes = fresh
	m.logger.Info("mirror: document loaded", "nodes", m.nodes.len())
	m.requestAll(missing)
	return nil
}

// replayLocked applies the events queued during a rebuild, in arrival order.
func (m *Mirror) replayLocked() {
	queued := m.pending
	m.pending = nil
	m.rebuilding = false
	for _, fn := range queued {
		fn()
	}
	if len(queued) > 0 {
		m.logger.Debug("mirror: replayed events after rebuild", "events", len(queued))
	}
}

// handle runs fn with mu held, or queues it while a rebuild is in flight.
func (m *Mirror) handle(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rebuilding {
		m.pending = append(m.pending, fn)
		return
	}
	fn()
}

func (m *Mirror) followReadyState(ctx context.Context) {
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for {
		res, err := m.page.Context(ctx).Eval(`() => document.readyState`)
		if err == nil {
			state := dom.ParseReadyState(res.Value.Str())
			m.doc.SetReadyState(state)
			if state == dom.Complete {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Mirror) getDocument() (*proto.DOMNode, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(m.page)
	if err != nil {
		return nil, err
	}
	return res.Root, nil
}

func (m *Mirror) requestChildren(id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(m.page)
	if err != nil {
		m.logger.Debug("mirror: requestChildNodes failed", "node", id, "error", err)
	}
}

// requestAll must not block the event goroutine: the answers arrive as
// DOM.setChildNodes events on that same goroutine.
func (m *Mirror) requestAll(ids []proto.DOMNodeID) {
	for _, id := range ids {
		go m.request(id)
	}
}

func (m *Mirror) onSetChildNodes(e *proto.DOMSetChildNodes) {
	m.handle(func() { m.setChildNodes(e) })
}

func (m *Mirror) setChildNodes(e *proto.DOMSetChildNodes) {
	parent := m.nodes.get(e.ParentID)
	if parent == nil {
		return
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		m.nodes.forget(c)
	}
	var missing []proto.DOMNodeID
	children := make([]*html.Node, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		if c := m.nodes.build(n, &missing); c != nil {
			children = append(children, c)
		}
	}
	m.apply(func(tx *dom.Tx) error { return tx.ReplaceChildren(parent, children...) })
	m.requestAll(missing)
}

func (m *Mirror) onInserted(e *proto.DOMChildNodeInserted) {
	m.handle(func() { m.inserted(e) })
}

func (m *Mirror) inserted(e *proto.DOMChildNodeInserted) {
	parent := m.nodes.get(e.ParentNodeID)
	if parent == nil || e.Node == nil {
		return
	}
	if old := m.nodes.get(e.Node.NodeID); old != nil {
		m.nodes.forget(old)
		if old.Parent != nil {
			m.apply(func(tx *dom.Tx) error { return tx.RemoveChild(old.Parent, old) })
		}
	}

	var ref *html.Node
	if e.PreviousNodeID == 0 {
		ref = parent.FirstChild
	} else if prev := m.nodes.get(e.PreviousNodeID); prev != nil && prev.Parent == parent {
		ref = prev.NextSibling
	}
	var missing []proto.DOMNodeID
	child := m.nodes.build(e.Node, &missing)
	if child == nil {
		return
	}
	m.apply(func(tx *dom.Tx) error { return tx.InsertBefore(parent, child, ref) })
	m.requestAll(missing)
}

func (m *Mirror) onRemoved(e *proto.DOMChildNodeRemoved) {
	m.handle(func() {
		parent, child := m.nodes.get(e.ParentNodeID), m.nodes.get(e.NodeID)
		if parent == nil || child == nil || child.Parent != parent {
			return
		}
		m.nodes.forget(child)
		m.apply(func(tx *dom.Tx) error { return tx.RemoveChild(parent, child) })
	})
}

// onCountUpdated fires when a node we hold without children gains some.
func (m *Mirror) onCountUpdated(e *proto.DOMChildNodeCountUpdated) {
	m.handle(func() {
		if n := m.nodes.get(e.NodeID); n != nil && n.FirstChild == nil && e.ChildNodeCount > 0 {
			go m.request(e.NodeID)
		}
	})
}

func (m *Mirror) onCharacterData(e *proto.DOMCharacterDataModified) {
	m.handle(func() {
		if n := m.nodes.get(e.NodeID); n != nil {
			m.apply(func(tx *dom.Tx) error { return tx.SetText(n, e.CharacterData) })
		}
	})
}

func (m *Mirror) onAttribute(e *proto.DOMAttributeModified) {
	m.handle(func() {
		if n := m.nodes.get(e.NodeID); n != nil {
			m.apply(func(tx *dom.Tx) error { return tx.SetAttr(n, e.Name, e.Value) })
		}
	})
}

func (m *Mirror) onAttributeRemoved(e *proto.DOMAttributeRemoved) {
	m.handle(func() {
		if n := m.nodes.get(e.NodeID); n != nil {
			m.apply(func(tx *dom.Tx) error { return tx.RemoveAttr(n, e.Name) })
		}
	})
}

func (m *Mirror) apply(fn func(tx *dom.Tx) error) {
	if err := m.doc.Update(fn); err != nil {
		m.logger.Debug("mirror: event skipped", "error", err)
	}
}
