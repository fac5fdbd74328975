package watcher

import "time"

// tick is sent when a path's debounce timer fires.
type tick struct {
	path string
	seq  uint64
}

type pendingAction struct {
	action Action
	seq    uint64
	timer  *time.Timer
}

// debouncer coalesces actions per path until no event arrives for delay.
// Each schedule replaces the path's timer with a new one; a tick from a
// replaced timer may still be queued and is dropped by take.
type debouncer struct {
	delay   time.Duration
	ready   chan tick
	done    <-chan struct{}
	seq     uint64
	pending map[string]pendingAction
}

func newDebouncer(delay time.Duration, done <-chan struct{}) *debouncer {
	return &debouncer{
		delay:   delay,
		ready:   make(chan tick, 64),
		done:    done,
		pending: make(map[string]pendingAction),
	}
}

// schedule records action as the latest for path and restarts its delay.
func (d *debouncer) schedule(path string, action Action) {
	if p, ok := d.pending[path]; ok {
		p.timer.Stop()
	}
	d.seq++
	t := tick{path: path, seq: d.seq}
	d.pending[path] = pendingAction{
		action: action,
		seq:    t.seq,
		timer: time.AfterFunc(d.delay, func() {
			select {
			case d.ready <- t:
			case <-d.done:
			}
		}),
	}
}

// take returns the action due for t. It reports false when t came from a
// timer that a later schedule replaced.
func (d *debouncer) take(t tick) (Action, bool) {
	p, ok := d.pending[t.path]
	if !ok || p.seq != t.seq {
		return ActionNone, false
	}
	delete(d.pending, t.path)
	return p.action, true
}

func (d *debouncer) stop() {
	for _, p := range d.pending {
		p.timer.Stop()
	}
}
