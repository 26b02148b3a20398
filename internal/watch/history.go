package watch

import "roomwatch/internal/status"

// DefaultHistorySize is how many recent codes a room remembers for debouncing.
const DefaultHistorySize = 3

// History is a fixed-capacity ring of recently observed status codes.
// It is not safe for concurrent use; the owning Monitor guards it.
type History struct {
	buf   []status.Code
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]status.Code, capacity)}
}

// Record appends code, overwriting the oldest entry when full.
func (h *History) Record(code status.Code) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = code
		h.n++
		return
	}
	h.buf[h.start] = code
	h.start = (h.start + 1) % len(h.buf)
}

// SeenRecently reports whether code is anywhere in the window.
func (h *History) SeenRecently(code status.Code) bool {
	for i := 0; i < h.n; i++ {
		if h.buf[(h.start+i)%len(h.buf)] == code {
			return true
		}
	}
	return false
}

func (h *History) Clear() {
	h.start = 0
	h.n = 0
}

func (h *History) Len() int { return h.n }

func (h *History) Cap() int { return len(h.buf) }

// Codes returns the window oldest first.
func (h *History) Codes() []status.Code {
	out := make([]status.Code, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
