package dom

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	d, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func find(doc *html.Node, id string) *html.Node {
	var hit *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if hit != nil {
			return
		}
		if v, ok := Attr(n, "id"); ok && v == id {
			hit = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hit
}

func TestParse_IsReady(t *testing.T) {
	d := mustParse(t, `<html><body><main id="m"></main></body></html>`)
	select {
	case <-d.Ready():
	default:
		t.Fatal("parsed document should be ready")
	}
	if d.ReadyState() != Complete {
		t.Errorf("ReadyState: got %s, want complete", d.ReadyState())
	}
}

func TestSetReadyState_Monotonic(t *testing.T) {
	d := New()
	select {
	case <-d.Ready():
		t.Fatal("new document should not be ready")
	default:
	}
	d.SetReadyState(Interactive)
	d.SetReadyState(Loading)
	if d.ReadyState() != Interactive {
		t.Errorf("ReadyState: got %s, want interactive", d.ReadyState())
	}
	d.SetReadyState(Complete) // must not close ready twice
	<-d.Ready()
}

func TestObserve_SubtreeFiltering(t *testing.T) {
	d := mustParse(t, `<html><body><main id="m"><div id="a">x</div></main><aside id="s"></aside></body></html>`)

	var main, div, aside *html.Node
	d.View(func(doc *html.Node) {
		main, div, aside = find(doc, "m"), find(doc, "a"), find(doc, "s")
	})

	var got []Record
	stop := d.Observe(main, ObserveOptions{ChildList: true, CharacterData: true, Subtree: true}, func(recs []Record) {
		got = append(got, recs...)
	})
	defer stop()

	err := d.Update(func(tx *Tx) error {
		if err := tx.AppendChild(div, NewText("y")); err != nil {
			return err
		}
		if err := tx.AppendChild(aside, NewText("outside")); err != nil {
			return err
		}
		if err := tx.SetText(div.FirstChild, "changed"); err != nil {
			return err
		}
		return tx.SetAttr(div, "class", "ignored")
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("records: got %d, want 2 (%+v)", len(got), got)
	}
	if got[0].Type != RecordChildList || got[0].Target != div {
		t.Errorf("record[0]: got %s on %v", got[0].Type, got[0].Target)
	}
	if got[1].Type != RecordCharacterData || got[1].OldValue != "x" {
		t.Errorf("record[1]: got %s old=%q", got[1].Type, got[1].OldValue)
	}
}

func TestObserve_Disconnect(t *testing.T) {
	d := mustParse(t, `<html><body><main id="m"></main></body></html>`)
	var main *html.Node
	d.View(func(doc *html.Node) { main = find(doc, "m") })

	calls := 0
	stop := d.Observe(main, ObserveOptions{ChildList: true}, func([]Record) { calls++ })
	stop()
	stop()

	_ = d.Update(func(tx *Tx) error { return tx.AppendChild(main, NewElement("p")) })
	if calls != 0 {
		t.Errorf("calls after disconnect: got %d, want 0", calls)
	}
}

func TestObserve_ResetReachesEveryone(t *testing.T) {
	d := mustParse(t, `<html><body><main id="m"></main></body></html>`)
	var main *html.Node
	d.View(func(doc *html.Node) { main = find(doc, "m") })

	var types []RecordType
	d.Observe(main, ObserveOptions{}, func(recs []Record) {
		for _, r := range recs {
			types = append(types, r.Type)
		}
	})

	fresh, _ := html.Parse(strings.NewReader(`<p>new</p>`))
	if err := d.Update(func(tx *Tx) error { return tx.Reset(fresh) }); err != nil {
		t.Fatal(err)
	}
	if len(types) != 1 || types[0] != RecordReset {
		t.Fatalf("types: got %v, want [reset]", types)
	}
	if d.Attached(main) {
		t.Error("old main should be detached after reset")
	}
}

func TestCallbackMayView(t *testing.T) {
	d := mustParse(t, `<html><body><main id="m"></main></body></html>`)
	var main *html.Node
	d.View(func(doc *html.Node) { main = find(doc, "m") })

	seen := ""
	d.Observe(main, ObserveOptions{ChildList: true, CharacterData: true, Subtree: true}, func([]Record) {
		d.View(func(*html.Node) { seen = VisibleText(main) })
	})
	_ = d.Update(func(tx *Tx) error { return tx.AppendChild(main, NewText("hello")) })
	if seen != "hello" {
		t.Errorf("seen: got %q, want %q", seen, "hello")
	}
}

func TestTx_Errors(t *testing.T) {
	d := New()
	p, c := NewElement("div"), NewElement("span")
	err := d.Update(func(tx *Tx) error { return tx.RemoveChild(p, c) })
	if !errors.Is(err, ErrNotChild) {
		t.Errorf("RemoveChild: got %v, want ErrNotChild", err)
	}
	err = d.Update(func(tx *Tx) error { return tx.SetText(p, "x") })
	if !errors.Is(err, ErrNotText) {
		t.Errorf("SetText: got %v, want ErrNotText", err)
	}
	err = d.Update(func(tx *Tx) error { return tx.AppendChild(nil, c) })
	if !errors.Is(err, ErrNilNode) {
		t.Errorf("AppendChild: got %v, want ErrNilNode", err)
	}
}

func TestAppendChild_MovesNode(t *testing.T) {
	d := New()
	a, b, c := NewElement("div"), NewElement("div"), NewElement("span")
	_ = d.Update(func(tx *Tx) error {
		_ = tx.AppendChild(tx.Document(), a)
		_ = tx.AppendChild(tx.Document(), b)
		_ = tx.AppendChild(a, c)
		return tx.AppendChild(b, c)
	})
	if c.Parent != b || a.FirstChild != nil {
		t.Error("AppendChild should move the node to its new parent")
	}
}

func TestVisibleText(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"inline", `<div id="x">  hello   <b>world</b> </div>`, "hello world"},
		{"paragraphs", `<div id="x"><p>one</p><p>two</p></div>`, "one\n\ntwo"},
		{"blocks", "<div id=\"x\"><div>one</div>\n  <div>two</div></div>", "one\ntwo"},
		{"largest break wins", `<div id="x"><h2>Title</h2><p>one</p><ul><li>a</li><li>b</li></ul></div>`, "Title\n\none\n\na\nb"},
		{"br", `<div id="x">a<br>b</div>`, "a\nb"},
		{"double br", `<div id="x">a<br><br>b</div>`, "a\n\nb"},
		{"script", `<div id="x">a<script>var x=1</script><style>.c{}</style></div>`, "a"},
		{"hidden", `<div id="x">shown<span hidden>no</span></div>`, "shown"},
		{"aria hidden still rendered", `<div id="x">copy <span aria-hidden="true">icon</span></div>`, "copy icon"},
		{"empty", `<div id="x">   <span> </span></div>`, ""},
		{"pre", "<div id=\"x\"><pre>l1\nl2</pre></div>", "l1\nl2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := mustParse(t, "<html><body>"+tc.src+"</body></html>")
			var got string
			d.View(func(doc *html.Node) { got = VisibleText(find(doc, "x")) })
			if got != tc.want {
				t.Errorf("VisibleText: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBody(t *testing.T) {
	if Body(New().node) != nil {
		t.Error("empty document has no body")
	}
	d := mustParse(t, `<p>x</p>`)
	d.View(func(doc *html.Node) {
		if Body(doc) == nil {
			t.Error("parsed document should have a body")
		}
	})
}
