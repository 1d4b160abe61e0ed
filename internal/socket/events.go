package socket

import "sync"

// EventKind names a lifecycle event listeners can subscribe to.
type EventKind string

const (
	EventOpen      EventKind = "open"
	EventMessage   EventKind = "message"
	EventClose     EventKind = "close"
	EventError     EventKind = "error"
	EventReconnect EventKind = "reconnect"
)

// CloseEvent carries the close code and reason of a finished connection.
// Connections that dropped without a close frame report 1006.
type CloseEvent struct {
	Code   int
	Reason string
}

// Event is passed to every listener. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind EventKind

	Data any    // message: decoded JSON value, or the text as a string
	Raw  []byte // message: payload as received

	Close CloseEvent // close
	Err   error      // error
	// Attempt is the 1-based reconnect attempt number.
	Attempt int
}

// Handler receives events. Handlers of one Client never run concurrently.
type Handler func(Event)

// ListenerID identifies a registered handler for Off.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// dispatcher keeps the kind → listeners table and delivers events one at a
// time in emission order. An emit from inside a handler is queued and
// delivered after the current handler returns, so handlers may call back
// into the Client freely.
type dispatcher struct {
	mu       sync.Mutex
	table    map[EventKind][]listener
	nextID   ListenerID
	queue    []Event
	draining bool
}

func (d *dispatcher) add(kind EventKind, fn Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.table == nil {
		d.table = make(map[EventKind][]listener)
	}
	d.nextID++
	d.table[kind] = append(d.table[kind], listener{id: d.nextID, fn: fn})
	return d.nextID
}

// remove drops the listener. The slice is rebuilt so that a snapshot being
// iterated by the drainer is left intact.
func (d *dispatcher) remove(kind EventKind, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.table[kind]
	kept := make([]listener, 0, len(old))
	for _, l := range old {
		if l.id != id {
			kept = append(kept, l)
		}
	}
	d.table[kind] = kept
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	d.drain()
}

func (d *dispatcher) drain() {
	finished := false
	defer func() {
		if finished {
			return
		}
		// A handler panicked: events still queued are handed to a fresh
		// drainer so they are not lost.
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		go d.drain()
	}()

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			finished = true
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		snapshot := d.table[ev.Kind]
		d.mu.Unlock()

		for _, l := range snapshot {
			l.fn(ev)
		}
	}
}
