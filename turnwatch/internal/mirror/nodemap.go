package mirror

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeCDATA    = 4
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// nodeMap binds CDP node ids to mirrored nodes, both ways so that a removed
// subtree can be forgotten.
type nodeMap struct {
	byID   map[proto.DOMNodeID]*html.Node
	byNode map[*html.Node]proto.DOMNodeID
}

func newNodeMap() *nodeMap {
	return &nodeMap{
		byID:   make(map[proto.DOMNodeID]*html.Node),
		byNode: make(map[*html.Node]proto.DOMNodeID),
	}
}

func (nm *nodeMap) len() int { return len(nm.byID) }

func (nm *nodeMap) get(id proto.DOMNodeID) *html.Node {
	return nm.byID[id]
}

// forget drops n and its descendants.
func (nm *nodeMap) forget(n *html.Node) {
	if id, ok := nm.byNode[n]; ok {
		delete(nm.byNode, n)
		if nm.byID[id] == n {
			delete(nm.byID, id)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		nm.forget(c)
	}
}

// build converts a CDP node into a detached html subtree and registers
// every node in it. Ids of nodes whose children the browser has not sent
// yet are appended to missing. Shadow roots, frames and pseudo elements are
// not mirrored.
func (nm *nodeMap) build(src *proto.DOMNode, missing *[]proto.DOMNodeID) *html.Node {
	if src == nil {
		return nil
	}
	n := convert(src)
	if n == nil {
		return nil
	}
	nm.byID[src.NodeID] = n
	nm.byNode[n] = src.NodeID

	if len(src.Children) == 0 && src.ChildNodeCount != nil && *src.ChildNodeCount > 0 {
		*missing = append(*missing, src.NodeID)
	}
	for _, c := range src.Children {
		if child := nm.build(c, missing); child != nil {
			n.AppendChild(child)
		}
	}
	return n
}

// convert maps a single CDP node, without children.
func convert(src *proto.DOMNode) *html.Node {
	switch src.NodeType {
	case nodeElement:
		name := src.LocalName
		if name == "" {
			name = strings.ToLower(src.NodeName)
		}
		n := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		for i := 0; i+1 < len(src.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: src.Attributes[i], Val: src.Attributes[i+1]})
		}
		return n
	case nodeText, nodeCDATA:
		return &html.Node{Type: html.TextNode, Data: src.NodeValue}
	case nodeComment:
		return &html.Node{Type: html.CommentNode, Data: src.NodeValue}
	case nodeDocument:
		return &html.Node{Type: html.DocumentNode}
	case nodeDoctype:
		return &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(src.NodeName)}
	default:
		return nil
	}
}
