package dom

import (
	"errors"

	"golang.org/x/net/html"
)

var (
	ErrNilNode  = errors.New("dom: nil node")
	ErrNotChild = errors.New("dom: node is not a child of parent")
	ErrNotText  = errors.New("dom: node does not carry character data")
)

// Tx applies mutations inside Document.Update and records them for
// observers. Matching against observer targets happens here, while the
// tree still has the shape the mutation was made against.
type Tx struct {
	doc     *Document
	pending map[*registration][]Record
}

// Document returns the document node.
func (tx *Tx) Document() *html.Node { return tx.doc.node }

// AppendChild appends child to parent, detaching it from any previous parent.
func (tx *Tx) AppendChild(parent, child *html.Node) error {
	return tx.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref under parent. A nil ref appends.
func (tx *Tx) InsertBefore(parent, child, ref *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	if ref != nil && ref.Parent != parent {
		return ErrNotChild
	}
	if old := child.Parent; old != nil {
		old.RemoveChild(child)
		tx.record(Record{Type: RecordChildList, Target: old, Removed: []*html.Node{child}})
	}
	parent.InsertBefore(child, ref)
	tx.record(Record{Type: RecordChildList, Target: parent, Added: []*html.Node{child}})
	return nil
}

// RemoveChild detaches child from parent.
func (tx *Tx) RemoveChild(parent, child *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	if child.Parent != parent {
		return ErrNotChild
	}
	parent.RemoveChild(child)
	tx.record(Record{Type: RecordChildList, Target: parent, Removed: []*html.Node{child}})
	return nil
}

// ReplaceChildren swaps every child of parent for children, as one record.
func (tx *Tx) ReplaceChildren(parent *html.Node, children ...*html.Node) error {
	if parent == nil {
		return ErrNilNode
	}
	rec := Record{Type: RecordChildList, Target: parent}
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		rec.Removed = append(rec.Removed, c)
		c = next
	}
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		parent.AppendChild(c)
		rec.Added = append(rec.Added, c)
	}
	tx.record(rec)
	return nil
}

// SetText replaces the data of a text or comment node.
func (tx *Tx) SetText(n *html.Node, data string) error {
	if n == nil {
		return ErrNilNode
	}
	if n.Type != html.TextNode && n.Type != html.CommentNode {
		return ErrNotText
	}
	old := n.Data
	n.Data = data
	tx.record(Record{Type: RecordCharacterData, Target: n, OldValue: old})
	return nil
}

// SetAttr sets an attribute on an element.
func (tx *Tx) SetAttr(n *html.Node, key, val string) error {
	if n == nil {
		return ErrNilNode
	}
	old, _ := Attr(n, key)
	replaced := false
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = val
			replaced = true
			break
		}
	}
	if !replaced {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	tx.record(Record{Type: RecordAttributes, Target: n, AttributeName: key, OldValue: old})
	return nil
}

// RemoveAttr deletes an attribute from an element. Missing attributes are
// not an error and produce no record.
func (tx *Tx) RemoveAttr(n *html.Node, key string) error {
	if n == nil {
		return ErrNilNode
	}
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			tx.record(Record{Type: RecordAttributes, Target: n, AttributeName: key, OldValue: old})
			return nil
		}
	}
	return nil
}

// Reset replaces the whole tree with doc, which must be a DocumentNode.
func (tx *Tx) Reset(doc *html.Node) error {
	if doc == nil {
		return ErrNilNode
	}
	tx.doc.node = doc
	tx.record(Record{Type: RecordReset, Target: doc})
	return nil
}

func (tx *Tx) record(rec Record) {
	for _, reg := range tx.doc.regs {
		if reg.wants(rec) {
			tx.pending[reg] = append(tx.pending[reg], rec)
		}
	}
}

// deliveries returns pending records in registration order.
func (tx *Tx) deliveries() []delivery {
	if len(tx.pending) == 0 {
		return nil
	}
	out := make([]delivery, 0, len(tx.pending))
	for _, reg := range tx.doc.regs {
		if recs, ok := tx.pending[reg]; ok {
			out = append(out, delivery{reg: reg, records: recs})
		}
	}
	return out
}
