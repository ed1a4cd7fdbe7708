package memory

import "lumen/internal/core"

const DefaultHistorySize = 10

// History is a fixed-size ring of finished turns. Oldest entries are evicted
// first once the ring is full.
type History struct {
	ring  []core.Turn
	start int
	size  int
}

func NewHistory(bound int) *History {
	if bound <= 0 {
		bound = DefaultHistorySize
	}
	return &History{ring: make([]core.Turn, bound)}
}

func (h *History) Bound() int { return len(h.ring) }

func (h *History) Len() int { return h.size }

func (h *History) Append(t core.Turn) {
	t = t.Clone()
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = t
		h.size++
		return
	}
	h.ring[h.start] = t
	h.start = (h.start + 1) % len(h.ring)
}

// Recent returns up to n turns, most recent last. n <= 0 means all.
func (h *History) Recent(n int) []core.Turn {
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]core.Turn, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.ring[(h.start+i)%len(h.ring)].Clone())
	}
	return out
}

func (h *History) Reset() {
	clear(h.ring)
	h.start = 0
	h.size = 0
}
