package dom

import "golang.org/x/net/html"

// RecordType is the kind of a mutation record.
type RecordType string

const (
	RecordChildList     RecordType = "childList"
	RecordCharacterData RecordType = "characterData"
	RecordAttributes    RecordType = "attributes"
	// RecordReset means the whole tree was replaced. It reaches every
	// observer regardless of target or options.
	RecordReset RecordType = "reset"
)

// Record is a single tree mutation.
type Record struct {
	Type          RecordType
	Target        *html.Node
	Added         []*html.Node
	Removed       []*html.Node
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which records an observer receives.
type ObserveOptions struct {
	ChildList     bool
	CharacterData bool
	Attributes    bool
	Subtree       bool
}

// Callback receives the records produced by one Update.
type Callback func(records []Record)

type registration struct {
	id     uint64
	target *html.Node
	opts   ObserveOptions
	cb     Callback
}

func (r *registration) wants(rec Record) bool {
	switch rec.Type {
	case RecordReset:
		return true
	case RecordChildList:
		if !r.opts.ChildList {
			return false
		}
	case RecordCharacterData:
		if !r.opts.CharacterData {
			return false
		}
	case RecordAttributes:
		if !r.opts.Attributes {
			return false
		}
	}
	if rec.Target == r.target {
		return true
	}
	return r.opts.Subtree && contains(r.target, rec.Target)
}

// Observe registers cb for mutations on target. The returned function
// disconnects the observer; it is safe to call more than once.
func (d *Document) Observe(target *html.Node, opts ObserveOptions, cb Callback) (disconnect func()) {
	d.mu.Lock()
	d.nextID++
	reg := &registration{id: d.nextID, target: target, opts: opts, cb: cb}
	d.regs = append(d.regs, reg)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, r := range d.regs {
			if r.id == reg.id {
				d.regs = append(d.regs[:i], d.regs[i+1:]...)
				return
			}
		}
	}
}

type delivery struct {
	reg     *registration
	records []Record
}
