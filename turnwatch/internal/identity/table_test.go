package identity

import (
	"runtime"
	"testing"
)

type node struct{ id int }

func TestTable_ExactEquality(t *testing.T) {
	tab := New[node]()
	a := &node{1}

	if tab.Unchanged(a, "hi") {
		t.Fatal("unseen node must not be unchanged")
	}
	tab.Record(a, "hi")
	if !tab.Unchanged(a, "hi") {
		t.Error("same text should be unchanged")
	}
	if tab.Unchanged(a, "hi ") {
		t.Error("one extra character is a change")
	}
	if tab.Unchanged(a, "h") {
		t.Error("truncated text is a change")
	}
}

func TestTable_KeyedByIdentity(t *testing.T) {
	tab := New[node]()
	a, b := &node{1}, &node{1}
	tab.Record(a, "same")

	if tab.Unchanged(b, "same") {
		t.Error("an equal-valued but distinct node must not share an entry")
	}
	tab.Record(a, "other")
	if tab.Len() != 1 {
		t.Errorf("Len: got %d, want 1 (one record per node)", tab.Len())
	}
	if got, _ := tab.Lookup(a); got != "other" {
		t.Errorf("Lookup: got %q, want %q", got, "other")
	}
	runtime.KeepAlive(b)
}

func TestTable_NilNode(t *testing.T) {
	tab := New[node]()
	tab.Record(nil, "x")
	if tab.Len() != 0 {
		t.Error("nil nodes are never recorded")
	}
	if _, ok := tab.Lookup(nil); ok {
		t.Error("Lookup(nil) should miss")
	}
}

func TestTable_DoesNotRetain(t *testing.T) {
	tab := New[node]()
	keep := &node{0}
	tab.Record(keep, "kept")

	func() {
		for i := 0; i < 64; i++ {
			tab.Record(&node{i + 1}, "gone")
		}
	}()
	runtime.GC()
	runtime.GC()

	removed := tab.Sweep()
	if removed == 0 {
		t.Skip("collector did not reclaim any node in this run")
	}
	if !tab.Unchanged(keep, "kept") {
		t.Error("live node entry must survive a sweep")
	}
	runtime.KeepAlive(keep)
}
