package observer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/sink"
	"github.com/hazyhaar/chatscribe/turnwatch/turn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

const fixedTS = "2026-01-02T03:04:05.678Z"

func clock() time.Time { return fixedNow }

func lookup(t *testing.T, p turn.Platform) *adapter.Adapter {
	t.Helper()
	reg, err := adapter.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	a, err := reg.Lookup(p)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", p, err)
	}
	return a
}

func parse(t *testing.T, src string) *dom.Document {
	t.Helper()
	d, err := dom.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func query(n *html.Node, sel string) *html.Node {
	return cascadia.Query(n, cascadia.MustCompile(sel))
}

// message builds a detached element holding a single text child.
func message(text string, attrs ...string) *html.Node {
	el := dom.NewElement("div", attrs...)
	el.AppendChild(dom.NewText(text))
	return el
}

// --- scanner ---

func TestScan_Idempotent(t *testing.T) {
	d := parse(t, `<main>
		<div data-message-author-role="user">hi</div>
		<div data-message-author-role="assistant">hello</div>
	</main>`)
	sc := newScanner(lookup(t, turn.PlatformChatGPT), clock)

	var first, second []turn.LogEntry
	d.View(func(doc *html.Node) {
		root := query(doc, "main")
		first = sc.scan(root)
		second = sc.scan(root)
	})

	want := []turn.LogEntry{
		{Timestamp: fixedTS, Platform: turn.PlatformChatGPT, Role: turn.RoleUser, Content: "hi"},
		{Timestamp: fixedTS, Platform: turn.PlatformChatGPT, Role: turn.RoleAssistant, Content: "hello"},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first scan (-want +got):\n%s", diff)
	}
	if len(second) != 0 {
		t.Errorf("second scan: got %d entries, want 0", len(second))
	}
}

func TestScan_ChangeSensitivity(t *testing.T) {
	d := parse(t, `<main><div data-message-author-role="assistant" id="a">Hel</div></main>`)
	sc := newScanner(lookup(t, turn.PlatformChatGPT), clock)

	var root, text *html.Node
	d.View(func(doc *html.Node) {
		root = query(doc, "main")
		text = query(doc, "#a").FirstChild
		sc.scan(root)
	})

	if err := d.Update(func(tx *dom.Tx) error { return tx.SetText(text, "Hello") }); err != nil {
		t.Fatal(err)
	}
	var got []turn.LogEntry
	d.View(func(*html.Node) { got = sc.scan(root) })
	if len(got) != 1 || got[0].Content != "Hello" {
		t.Fatalf("after growth: got %+v, want one entry with Hello", got)
	}

	// Reverting to an earlier value is still a change.
	d.Update(func(tx *dom.Tx) error { return tx.SetText(text, "Hel") })
	d.View(func(*html.Node) { got = sc.scan(root) })
	if len(got) != 1 || got[0].Content != "Hel" {
		t.Fatalf("after revert: got %+v, want one entry with Hel", got)
	}
}

func TestScan_EmptyTextNotRecorded(t *testing.T) {
	d := parse(t, `<main><div data-message-author-role="assistant" id="a">   </div></main>`)
	sc := newScanner(lookup(t, turn.PlatformChatGPT), clock)

	var root, el *html.Node
	var got []turn.LogEntry
	d.View(func(doc *html.Node) {
		root, el = query(doc, "main"), query(doc, "#a")
		got = sc.scan(root)
	})
	if len(got) != 0 {
		t.Fatalf("empty text: got %d entries, want 0", len(got))
	}
	if _, ok := sc.seen.Lookup(el); ok {
		t.Error("empty node should not be recorded")
	}

	d.Update(func(tx *dom.Tx) error { return tx.SetText(el.FirstChild, "answer") })
	d.View(func(*html.Node) { got = sc.scan(root) })
	if len(got) != 1 || got[0].Content != "answer" {
		t.Errorf("after fill: got %+v", got)
	}
}

func TestScan_UnknownRoleRememberedNotEmitted(t *testing.T) {
	d := parse(t, `<main><div data-message-author-role="tool" id="x">output</div></main>`)
	sc := newScanner(lookup(t, turn.PlatformChatGPT), clock)

	var el *html.Node
	var got []turn.LogEntry
	d.View(func(doc *html.Node) {
		el = query(doc, "#x")
		got = sc.scan(query(doc, "main"))
	})
	if len(got) != 0 {
		t.Fatalf("unknown role: got %+v, want nothing", got)
	}
	if prev, ok := sc.seen.Lookup(el); !ok || prev != "output" {
		t.Errorf("identity: got %q/%v, want output/true", prev, ok)
	}
}

func TestScan_DocumentOrderAndSharedTimestamp(t *testing.T) {
	d := parse(t, `<div id="chat-history">
		<user-query-content>q1</user-query-content>
		<message-content>a1</message-content>
		<user-query-content>q2</user-query-content>
		<message-content>a2</message-content>
	</div>`)
	calls := 0
	sc := newScanner(lookup(t, turn.PlatformGemini), func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls) * time.Second)
	})

	var got []turn.LogEntry
	d.View(func(doc *html.Node) { got = sc.scan(query(doc, "#chat-history")) })

	var contents []string
	for _, e := range got {
		contents = append(contents, e.Content)
		if e.Timestamp != got[0].Timestamp {
			t.Errorf("timestamp drift: %s vs %s", e.Timestamp, got[0].Timestamp)
		}
	}
	if diff := cmp.Diff([]string{"q1", "a1", "q2", "a2"}, contents); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if calls != 1 {
		t.Errorf("clock reads: got %d, want 1", calls)
	}
}

// --- debouncer ---

func TestDebouncer_Coalesces(t *testing.T) {
	d := newDebouncer(40 * time.Millisecond)
	if d.C() != nil || d.pending() {
		t.Fatal("idle debouncer should have no channel")
	}

	start := time.Now()
	for range 5 {
		d.notify()
		time.Sleep(10 * time.Millisecond)
	}
	<-d.C()
	d.fired()

	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("fired after %v, want at least a quiet window past the last notify", elapsed)
	}
	select {
	case <-d.C():
		t.Fatal("debouncer fired twice")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := newDebouncer(10 * time.Millisecond)
	d.notify()
	d.stop()
	if d.pending() {
		t.Error("stop should clear the pending fire")
	}
}

func TestDebouncer_DefaultWindow(t *testing.T) {
	if d := newDebouncer(0); d.window != DefaultQuietWindow {
		t.Errorf("window: got %v, want %v", d.window, DefaultQuietWindow)
	}
}

// --- session ---

type harness struct {
	t       *testing.T
	session *Session
	entries chan turn.LogEntry
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

func start(t *testing.T, d *dom.Document, a *adapter.Adapter) *harness {
	t.Helper()
	h := &harness{t: t, entries: make(chan turn.LogEntry, 64), done: make(chan error, 1)}
	s, err := New(Config{
		Document: d,
		Adapter:  a,
		Sink: sink.NewCallback(func(_ context.Context, e turn.LogEntry) error {
			h.entries <- e
			return nil
		}),
		QuietWindow: 30 * time.Millisecond,
		RootRetry:   20 * time.Millisecond,
		Now:         clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *harness) next() turn.LogEntry {
	h.t.Helper()
	select {
	case e := <-h.entries:
		return e
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for entry")
		return turn.LogEntry{}
	}
}

func (h *harness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case e := <-h.entries:
		h.t.Fatalf("unexpected entry: %+v", e)
	case <-time.After(d):
	}
}

func TestSession_PingThenInitialScan(t *testing.T) {
	d := parse(t, `<main>
		<div data-message-author-role="user">hi</div>
		<div data-message-author-role="assistant">hello</div>
	</main>`)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))

	got := []turn.LogEntry{h.next(), h.next(), h.next()}
	want := []turn.LogEntry{
		{Timestamp: fixedTS, Platform: turn.PlatformChatGPT, Role: turn.RoleDebug, Content: "ChatGPT watcher initialised"},
		{Timestamp: fixedTS, Platform: turn.PlatformChatGPT, Role: turn.RoleUser, Content: "hi"},
		{Timestamp: fixedTS, Platform: turn.PlatformChatGPT, Role: turn.RoleAssistant, Content: "hello"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	h.quiet(100 * time.Millisecond)
}

func TestSession_WaitsForReady(t *testing.T) {
	d := dom.New()
	d.Update(func(tx *dom.Tx) error {
		return tx.AppendChild(tx.Document(), dom.NewElement("main"))
	})
	h := start(t, d, lookup(t, turn.PlatformChatGPT))

	h.quiet(60 * time.Millisecond)
	d.SetReadyState(dom.Interactive)
	if e := h.next(); e.Role != turn.RoleDebug {
		t.Errorf("first entry: got role %s, want debug", e.Role)
	}
}

func TestSession_RootRetry(t *testing.T) {
	d := dom.New()
	d.SetReadyState(dom.Interactive)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))

	h.quiet(70 * time.Millisecond)
	if n := h.session.Stats().RootAttempts; n < 2 {
		t.Errorf("RootAttempts: got %d, want >= 2", n)
	}

	d.Update(func(tx *dom.Tx) error {
		htmlEl := dom.NewElement("html")
		body := dom.NewElement("body")
		htmlEl.AppendChild(body)
		body.AppendChild(message("late", "data-message-author-role", "user"))
		return tx.AppendChild(tx.Document(), htmlEl)
	})

	if e := h.next(); e.Role != turn.RoleDebug {
		t.Fatalf("first entry: got %+v, want ping", e)
	}
	if e := h.next(); e.Content != "late" || e.Role != turn.RoleUser {
		t.Errorf("second entry: got %+v", e)
	}
	if n := h.session.Stats().Acquisitions; n != 1 {
		t.Errorf("Acquisitions: got %d, want 1", n)
	}
}

func TestSession_BurstCoalescedIntoOneScan(t *testing.T) {
	d := parse(t, `<main id="m"><div data-message-author-role="assistant" id="a">H</div></main>`)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))
	h.next() // ping
	h.next() // "H"

	var text *html.Node
	d.View(func(doc *html.Node) { text = query(doc, "#a").FirstChild })

	scansBefore := h.session.Stats().Scans
	for _, s := range []string{"He", "Hel", "Hell", "Hello"} {
		d.Update(func(tx *dom.Tx) error { return tx.SetText(text, s) })
		time.Sleep(5 * time.Millisecond)
	}

	if e := h.next(); e.Content != "Hello" {
		t.Errorf("coalesced entry: got %q, want Hello", e.Content)
	}
	h.quiet(100 * time.Millisecond)
	if n := h.session.Stats().Scans - scansBefore; n != 1 {
		t.Errorf("scans: got %d, want 1", n)
	}
}

func TestSession_StreamingConversation(t *testing.T) {
	d := parse(t, `<html><body><div id="chat-history"></div></body></html>`)
	h := start(t, d, lookup(t, turn.PlatformGemini))
	if e := h.next(); e.Content != "Gemini watcher initialised" {
		t.Fatalf("ping: got %+v", e)
	}

	var history *html.Node
	d.View(func(doc *html.Node) { history = query(doc, "#chat-history") })

	q := dom.NewElement("user-query-content")
	q.AppendChild(dom.NewText("What is Go?"))
	d.Update(func(tx *dom.Tx) error { return tx.AppendChild(history, q) })
	if e := h.next(); e.Role != turn.RoleUser || e.Content != "What is Go?" {
		t.Errorf("query: got %+v", e)
	}

	reply := dom.NewElement("message-content")
	chunk := dom.NewText("A language")
	reply.AppendChild(chunk)
	d.Update(func(tx *dom.Tx) error { return tx.AppendChild(history, reply) })
	if e := h.next(); e.Role != turn.RoleAssistant || e.Content != "A language" {
		t.Errorf("first reply state: got %+v", e)
	}

	d.Update(func(tx *dom.Tx) error { return tx.SetText(chunk, "A language by Google.") })
	if e := h.next(); e.Content != "A language by Google." {
		t.Errorf("grown reply: got %+v", e)
	}
	h.quiet(100 * time.Millisecond)
}

func TestSession_MutationsOutsideRootIgnored(t *testing.T) {
	d := parse(t, `<html><body><main></main><aside id="side"></aside></body></html>`)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))
	h.next() // ping

	var side *html.Node
	d.View(func(doc *html.Node) { side = query(doc, "#side") })
	d.Update(func(tx *dom.Tx) error {
		return tx.AppendChild(side, message("sidebar", "data-message-author-role", "user"))
	})

	h.quiet(100 * time.Millisecond)
	if n := h.session.Stats().Notifications; n != 0 {
		t.Errorf("Notifications: got %d, want 0", n)
	}
}

func TestSession_ResetReacquires(t *testing.T) {
	d := parse(t, `<main><div data-message-author-role="user">old</div></main>`)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))
	h.next() // ping
	h.next() // old

	d.Update(func(tx *dom.Tx) error {
		doc, err := html.Parse(strings.NewReader(
			`<main><div data-message-author-role="user">old</div><div data-message-author-role="assistant">new</div></main>`))
		if err != nil {
			return err
		}
		return tx.Reset(doc)
	})

	// Fresh nodes: the ping and every turn are emitted again.
	var got []string
	for range 3 {
		got = append(got, h.next().Content)
	}
	if diff := cmp.Diff([]string{"ChatGPT watcher initialised", "old", "new"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := h.session.Stats().Acquisitions; n != 2 {
		t.Errorf("Acquisitions: got %d, want 2", n)
	}
}

func TestSession_DetachedRootReacquired(t *testing.T) {
	d := parse(t, `<html><body><main id="first"><div data-message-author-role="user" id="q">old</div></main></body></html>`)
	h := start(t, d, lookup(t, turn.PlatformChatGPT))
	h.next() // ping
	h.next() // old

	var body, first, q *html.Node
	d.View(func(doc *html.Node) {
		body, first, q = query(doc, "body"), query(doc, "#first"), query(doc, "#q")
	})

	// Removing a turn inside the root keeps the root.
	d.Update(func(tx *dom.Tx) error { return tx.RemoveChild(first, q) })
	h.quiet(80 * time.Millisecond)
	if n := h.session.Stats().Acquisitions; n != 1 {
		t.Fatalf("Acquisitions after inner removal: got %d, want 1", n)
	}

	// The page swaps the conversation container without a reset.
	d.Update(func(tx *dom.Tx) error {
		if err := tx.RemoveChild(body, first); err != nil {
			return err
		}
		next := dom.NewElement("main")
		next.AppendChild(message("fresh", "data-message-author-role", "assistant"))
		return tx.AppendChild(body, next)
	})

	var got []string
	for range 2 {
		got = append(got, h.next().Content)
	}
	if diff := cmp.Diff([]string{"ChatGPT watcher initialised", "fresh"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := h.session.Stats().Acquisitions; n != 2 {
		t.Errorf("Acquisitions: got %d, want 2", n)
	}

	// Mutations under the new root are observed.
	var fresh *html.Node
	d.View(func(doc *html.Node) { fresh = query(doc, "main > div").FirstChild })
	d.Update(func(tx *dom.Tx) error { return tx.SetText(fresh, "fresh and new") })
	if e := h.next(); e.Content != "fresh and new" {
		t.Errorf("after reacquire: got %+v", e)
	}
}

func TestNew_Validation(t *testing.T) {
	a := lookup(t, turn.PlatformClaude)
	d := dom.New()
	s := sink.NewCallback(nil)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"no document", Config{Adapter: a, Sink: s}},
		{"no adapter", Config{Document: d, Sink: s}},
		{"no sink", Config{Document: d, Adapter: a}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	sess, err := New(Config{Document: d, Adapter: a, Sink: s})
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" || sess.retry != DefaultRootRetry {
		t.Errorf("defaults: id=%q retry=%v", sess.ID, sess.retry)
	}
}

func TestScanOnce(t *testing.T) {
	d := parse(t, `<html><body><div id="chat-history">
		<user-query-content>q</user-query-content>
		<message-content>a</message-content>
	</div></body></html>`)
	got := ScanOnce(d, lookup(t, turn.PlatformGemini), fixedNow)
	want := []turn.LogEntry{
		{Timestamp: fixedTS, Platform: turn.PlatformGemini, Role: turn.RoleUser, Content: "q"},
		{Timestamp: fixedTS, Platform: turn.PlatformGemini, Role: turn.RoleAssistant, Content: "a"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if again := ScanOnce(d, lookup(t, turn.PlatformGemini), fixedNow); len(again) != 2 {
		t.Errorf("ScanOnce must not share identity state: got %d", len(again))
	}
}
