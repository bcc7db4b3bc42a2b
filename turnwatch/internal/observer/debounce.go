package observer

import "time"

// DefaultQuietWindow is how long the tree must stay quiet before a scan.
const DefaultQuietWindow = 500 * time.Millisecond

// debouncer collapses bursts of notifications into one fire. Each notify
// replaces the pending timer, so a fire happens only after a full quiet
// window with no further notifications. There is no maximum wait: a tree
// that never settles is never scanned.
//
// A debouncer is owned by a single goroutine and needs no locking.
type debouncer struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	if window <= 0 {
		window = DefaultQuietWindow
	}
	return &debouncer{window: window}
}

// notify (re)starts the quiet window.
func (d *debouncer) notify() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
}

// C returns the channel that fires when the quiet window expires. It is nil
// when nothing is pending, which blocks forever in a select.
func (d *debouncer) C() <-chan time.Time {
	return d.timerCh
}

// fired must be called after receiving from C.
func (d *debouncer) fired() {
	d.timer = nil
	d.timerCh = nil
}

// pending reports whether a fire is scheduled.
func (d *debouncer) pending() bool {
	return d.timer != nil
}

// stop cancels any pending fire.
func (d *debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.fired()
}
