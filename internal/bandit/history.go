package bandit

// Ring is a fixed-capacity FIFO buffer; pushing past capacity evicts the
// oldest entry.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing creates a ring holding at most capacity entries
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th entry, oldest first.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Slice copies all entries, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.n)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Last copies the newest n entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if n > r.n {
		n = r.n
	}
	out := make([]T, n)
	offset := r.n - n
	for i := range out {
		out[i] = r.At(offset + i)
	}
	return out
}
