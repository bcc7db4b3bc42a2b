package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped subtrees never contribute rendered text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Svg:      true,
}

var blocks = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true,
	atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Table: true, atom.Tr: true, atom.Ul: true,
}

// Markers written while walking, resolved by normalise.
const (
	markPreNewline = '\x00' // newline inside <pre>, kept as is
	markBreak      = '\x01' // one required line break (block element)
	markParagraph  = '\x02' // two required line breaks (<p>)
	markBr         = '\x03' // <br>, a literal newline
)

// VisibleText approximates HTMLElement.innerText followed by trim():
// non-rendered subtrees and [hidden] are skipped, whitespace collapses
// (line breaks inside <pre> are kept), <br> breaks a line, block elements
// sit on their own lines and paragraphs are separated by one blank line.
// Adjacent block boundaries collapse to the largest break they require.
func VisibleText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walkText(&b, n, false)
	return normalise(b.String())
}

func walkText(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.WriteString(strings.ReplaceAll(n.Data, "\n", string(markPreNewline)))
		} else {
			b.WriteString(n.Data)
		}
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		if _, hidden := Attr(n, "hidden"); hidden {
			return
		}
		if n.DataAtom == atom.Br {
			b.WriteRune(markBr)
			return
		}
		if n.DataAtom == atom.Pre {
			pre = true
		}
	case html.DocumentNode:
	default:
		return
	}

	var mark rune
	switch {
	case n.Type != html.ElementNode:
	case n.DataAtom == atom.P:
		mark = markParagraph
	case blocks[n.DataAtom]:
		mark = markBreak
	}
	if mark != 0 {
		b.WriteRune(mark)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(b, c, pre)
	}
	if mark != 0 {
		b.WriteRune(mark)
	}
}

// normalise resolves the walk markers. Text between block boundaries has
// its whitespace collapsed per <br> line; consecutive boundaries become
// max(required) newlines, and boundaries at either end are dropped.
func normalise(s string) string {
	var (
		out     strings.Builder
		pending int // newlines owed before the next text
		started bool
	)
	flush := func(run string) {
		parts := strings.Split(run, string(markBr))
		for i, part := range parts {
			parts[i] = strings.Join(strings.Fields(part), " ")
		}
		text := strings.Join(parts, "\n")
		if text == "" {
			return
		}
		if started {
			out.WriteString(strings.Repeat("\n", pending))
		}
		out.WriteString(text)
		started = true
		pending = 0
	}

	start := 0
	for i, r := range s {
		if r != markBreak && r != markParagraph {
			continue
		}
		flush(s[start:i])
		start = i + 1
		pending = max(pending, int(r-markBreak)+1)
	}
	flush(s[start:])

	return strings.TrimSpace(strings.ReplaceAll(out.String(), string(markPreNewline), "\n"))
}
