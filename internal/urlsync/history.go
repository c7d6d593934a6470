package urlsync

import "sync"

// Navigator is the address-bar port the synchronizer talks to.
type Navigator interface {
	CurrentQuery() string
	PushQuery(q string)
	ReplaceQuery(q string)
	OnPopState(fn func()) (cancel func())
}

type popListener struct {
	id int
	fn func()
}

// History is an in-memory navigator: a stack of query strings with a cursor,
// where Back and Forward move the cursor and fire pop-state listeners.
type History struct {
	mu        sync.Mutex
	entries   []string
	index     int
	listeners []popListener
	nextID    int
}

func NewHistory(initial string) *History {
	return &History{entries: []string{initial}}
}

func (h *History) CurrentQuery() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// PushQuery drops any forward entries and appends q.
func (h *History) PushQuery(q string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], q)
	h.index = len(h.entries) - 1
}

func (h *History) ReplaceQuery(q string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = q
}

func (h *History) OnPopState(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, popListener{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, l := range h.listeners {
			if l.id == id {
				h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
				return
			}
		}
	}
}

// Back moves one entry back. It reports false when already at the oldest entry.
func (h *History) Back() bool {
	return h.move(-1)
}

func (h *History) Forward() bool {
	return h.move(1)
}

// Entries returns a copy of the stack and the cursor position.
func (h *History) Entries() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...), h.index
}

func (h *History) move(delta int) bool {
	h.mu.Lock()
	next := h.index + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.index = next
	listeners := append([]popListener(nil), h.listeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l.fn()
	}
	return true
}
