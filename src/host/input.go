package host

import "sync"

// inputQueue feeds a surface's Input channel. It never drops pointer
// down/up or key events; consecutive pointer moves collapse into the most
// recent one while the consumer is busy.
type inputQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	wake chan struct{}
	done chan struct{}
	out  chan Event
}

func newInputQueue() *inputQueue {
	q := &inputQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan Event),
	}
	go q.pump()
	return q
}

// push queues ev. Returns false once the queue is closed.
func (q *inputQueue) push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if n := len(q.pending); ev.Kind == PointerMove && n > 0 && q.pending[n-1].Kind == PointerMove {
		q.pending[n-1] = ev
	} else {
		q.pending = append(q.pending, ev)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close drops pending events and closes the output channel.
func (q *inputQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}

func (q *inputQueue) events() <-chan Event { return q.out }

func (q *inputQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Event{}, false
	}
	ev := q.pending[0]
	q.pending = q.pending[1:]
	return ev, true
}

func (q *inputQueue) pump() {
	defer close(q.out)
	for {
		ev, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}
