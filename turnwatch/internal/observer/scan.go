package observer

import (
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/identity"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// scanner runs one pass over a conversation root and returns the turns
// whose text is new or changed since the previous pass.
type scanner struct {
	adapter *adapter.Adapter
	seen    *identity.Table[html.Node]
	now     func() time.Time
}

func newScanner(a *adapter.Adapter, now func() time.Time) *scanner {
	if now == nil {
		now = time.Now
	}
	return &scanner{adapter: a, seen: identity.New[html.Node](), now: now}
}

// scan must run with the tree read-locked. All entries of one pass carry
// the timestamp taken when the pass began.
//
// The identity table is updated before classification, so a node whose
// role cannot be inferred is remembered and not retried until its text
// changes.
func (s *scanner) scan(root *html.Node) []turn.LogEntry {
	if root == nil {
		return nil
	}
	at := s.now()

	var out []turn.LogEntry
	for i, n := range s.adapter.Select(root) {
		if n.Type != html.ElementNode {
			continue
		}
		text := dom.VisibleText(n)
		if text == "" {
			continue
		}
		if s.seen.Unchanged(n, text) {
			continue
		}
		s.seen.Record(n, text)

		role := s.adapter.Classify(n, i)
		if role == turn.RoleUnknown {
			continue
		}
		e, err := turn.NewEntry(at, s.adapter.Platform, role, text)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ScanOnce locates the conversation root of doc and scans it with a fresh
// identity table, so every non-empty classified turn is returned. It is
// the one-shot path for fetched pages and exported files. It returns nil
// when no root is found.
func ScanOnce(doc *dom.Document, a *adapter.Adapter, now time.Time) []turn.LogEntry {
	sc := newScanner(a, func() time.Time { return now })
	var out []turn.LogEntry
	doc.View(func(n *html.Node) {
		root, _ := a.LocateRoot(n)
		out = sc.scan(root)
	})
	return out
}
