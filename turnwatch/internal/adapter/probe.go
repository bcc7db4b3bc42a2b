package adapter

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// Report describes how an adapter sees a document, without touching any
// dedup state. It is the first thing to look at when a provider changes
// its markup and turns stop flowing.
type Report struct {
	Platform    turn.Platform     `json:"platform"`
	RootLocator string            `json:"root_locator"`
	Candidates  int               `json:"candidates"`
	WithText    int               `json:"with_text"`
	Roles       map[turn.Role]int `json:"roles"`
}

// Probe runs root location, selection and classification over doc.
func (a *Adapter) Probe(doc *html.Node) Report {
	rep := Report{Platform: a.Platform, Roles: make(map[turn.Role]int)}
	root, expr := a.LocateRoot(doc)
	if root == nil {
		return rep
	}
	rep.RootLocator = expr

	nodes := a.Select(root)
	rep.Candidates = len(nodes)
	for i, n := range nodes {
		if dom.VisibleText(n) == "" {
			continue
		}
		rep.WithText++
		rep.Roles[a.Classify(n, i)]++
	}
	return rep
}
