// Package identity remembers the last text logged for each live node
// without keeping the node alive. Keys are weak pointers: once the page
// drops an element and nothing else references it, the collector may
// reclaim it and its entry becomes inert garbage.
package identity

import "weak"

// minSweep is the table size below which reclaimed entries are never swept.
const minSweep = 1024

// Table maps node identity to the last recorded text. It is not safe for
// concurrent use; each scan session owns exactly one.
type Table[T any] struct {
	entries   map[weak.Pointer[T]]string
	highWater int
}

// New returns an empty Table.
func New[T any]() *Table[T] {
	return &Table[T]{entries: make(map[weak.Pointer[T]]string), highWater: minSweep}
}

// Lookup returns the text last recorded for n.
func (t *Table[T]) Lookup(n *T) (string, bool) {
	if n == nil {
		return "", false
	}
	text, ok := t.entries[weak.Make(n)]
	return text, ok
}

// Unchanged reports whether text equals the value recorded for n. Equality
// is exact: any difference, including streamed growth, is a change.
func (t *Table[T]) Unchanged(n *T, text string) bool {
	prev, ok := t.Lookup(n)
	return ok && prev == text
}

// Record stores text for n, replacing any previous value.
func (t *Table[T]) Record(n *T, text string) {
	if n == nil {
		return
	}
	t.entries[weak.Make(n)] = text
	if len(t.entries) >= t.highWater {
		t.Sweep()
		t.highWater = max(minSweep, 2*len(t.entries))
	}
}

// Len returns the number of entries, reclaimed ones included.
func (t *Table[T]) Len() int { return len(t.entries) }

// Sweep drops entries whose node has been reclaimed and returns how many
// were removed. Record calls it lazily when the table doubles in size.
func (t *Table[T]) Sweep() int {
	removed := 0
	for k := range t.entries {
		if k.Value() == nil {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}
