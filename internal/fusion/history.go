package fusion

// History is a fixed-capacity chronological buffer. Pushing beyond capacity
// evicts the oldest entry first.
type History[T any] struct {
	buf   []T
	start int
	n     int
}

// NewHistory creates a History with the given capacity. Capacity must be at
// least 1.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry if the buffer is full.
func (h *History[T]) Push(v T) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored entries.
func (h *History[T]) Len() int {
	return h.n
}

// Cap returns the buffer capacity.
func (h *History[T]) Cap() int {
	return len(h.buf)
}

// Values returns a copy of the entries, oldest first.
func (h *History[T]) Values() []T {
	out := make([]T, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the most recent entry, or the zero value and false if empty.
func (h *History[T]) Last() (T, bool) {
	if h.n == 0 {
		var zero T
		return zero, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}
