package mqtt

// ring is a fixed-capacity FIFO. When full, pushing drops the oldest item.
// Not safe for concurrent use; the Publisher holds its lock.
type ring[T any] struct {
	items   []T
	start   int // index of the oldest item
	size    int
	dropped bool // an item was dropped since the last drain
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) capacity() int { return len(r.items) }

func (r *ring[T]) len() int { return r.size }

// push appends v. It returns true only for the first drop after a drain, so
// callers log an overflow once per outage.
func (r *ring[T]) push(v T) bool {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return false
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	first := !r.dropped
	r.dropped = true
	return first
}

// drain removes and returns every item, oldest first.
func (r *ring[T]) drain() []T {
	if r.size == 0 {
		return nil
	}
	out := make([]T, r.size)
	for i := range out {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	clear(r.items)
	r.start, r.size, r.dropped = 0, 0, false
	return out
}
