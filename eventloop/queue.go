package eventloop

import "sync"

// queue is a bounded circular buffer.
// If an entry is pushed to the queue when it is full, the oldest entry is dropped.
type queue[T any] struct {
	mut       sync.Mutex
	entries   []T
	head      int
	tail      int
	readyChan chan struct{}
}

func newQueue[T any](capacity uint) queue[T] {
	if capacity == 0 {
		panic("capacity must be greater than 0")
	}
	return queue[T]{
		entries:   make([]T, capacity),
		head:      -1,
		tail:      -1,
		readyChan: make(chan struct{}),
	}
}

// push adds an entry to the back of the queue.
// It returns true if the entry at the front had to be dropped to make room.
func (q *queue[T]) push(entry T) (dropped bool) {
	q.mut.Lock()
	defer q.mut.Unlock()

	pos := q.tail + 1
	if pos == len(q.entries) {
		pos = 0
	}
	if pos == q.head {
		// drop the entry at the head of the queue
		var zero T
		q.entries[q.head] = zero
		q.head++
		if q.head == len(q.entries) {
			q.head = 0
		}
		dropped = true
	}
	q.entries[pos] = entry
	q.tail = pos

	if q.head == -1 {
		q.head = pos
	}

	select {
	case q.readyChan <- struct{}{}:
	default:
	}
	return dropped
}

func (q *queue[T]) pop() (entry T, ok bool) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if q.head == -1 {
		return entry, false
	}

	entry = q.entries[q.head]
	var zero T
	q.entries[q.head] = zero

	if q.head == q.tail {
		q.head = -1
		q.tail = -1
	} else {
		q.head++
		if q.head == len(q.entries) {
			q.head = 0
		}
	}
	return entry, true
}

func (q *queue[T]) len() int {
	q.mut.Lock()
	defer q.mut.Unlock()

	if q.head == -1 {
		return 0
	}
	if q.head <= q.tail {
		return q.tail - q.head + 1
	}
	return len(q.entries) - q.head + q.tail + 1
}

func (q *queue[T]) ready() <-chan struct{} {
	return q.readyChan
}
