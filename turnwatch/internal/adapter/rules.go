package adapter

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

// Candidate is a node selected by a scan together with its 0-based
// position in that scan's candidate sequence.
type Candidate struct {
	Node  *html.Node
	Index int
}

// Rule is one classification strategy. ok=false means the rule has no
// opinion and the next rule runs.
type Rule interface {
	Classify(c Candidate) (role turn.Role, ok bool)
}

// Classifier runs rules in order; the first decisive rule wins.
type Classifier []Rule

// Classify returns RoleUnknown when no rule decides.
func (cl Classifier) Classify(c Candidate) turn.Role {
	for _, r := range cl {
		if role, ok := r.Classify(c); ok {
			return role
		}
	}
	return turn.RoleUnknown
}

// FixedContainer assigns Role to nodes that match, or sit inside an
// element that matches, a provider's distinctive wrapper.
type FixedContainer struct {
	Match cascadia.Matcher
	Role  turn.Role
}

func (f FixedContainer) Classify(c Candidate) (turn.Role, bool) {
	for p := c.Node; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && f.Match.Match(p) {
			return f.Role, true
		}
	}
	return "", false
}

// AttributeDirect reads a role-bearing attribute verbatim.
type AttributeDirect struct {
	Attr string
}

func (a AttributeDirect) Classify(c Candidate) (turn.Role, bool) {
	v, ok := dom.Attr(c.Node, a.Attr)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return turn.ParseRole(v), true
}

// Keyword maps a substring of the keyword blob to a role.
type Keyword struct {
	Word string
	Role turn.Role
}

// KeywordBlob lowercases the tag name, the class list and the values of
// Attrs into one string and returns the role of the first keyword found,
// in priority order.
type KeywordBlob struct {
	Attrs    []string
	Keywords []Keyword
}

func (k KeywordBlob) Classify(c Candidate) (turn.Role, bool) {
	blob := k.blob(c.Node)
	for _, kw := range k.Keywords {
		if strings.Contains(blob, kw.Word) {
			return kw.Role, true
		}
	}
	return "", false
}

func (k KeywordBlob) blob(n *html.Node) string {
	parts := []string{n.Data}
	parts = append(parts, dom.Classes(n)...)
	for _, a := range k.Attrs {
		if v, ok := dom.Attr(n, a); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Positional assumes strict alternation: even index is the user, odd the
// assistant. It is wrong whenever a provider groups same-role turns or
// mixes non-message nodes into the candidates, so it goes last.
type Positional struct{}

func (Positional) Classify(c Candidate) (turn.Role, bool) {
	if c.Index%2 == 0 {
		return turn.RoleUser, true
	}
	return turn.RoleAssistant, true
}
