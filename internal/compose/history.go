package compose

import "sync"

const defaultHistorySize = 50

// History remembers sent messages for ctrl+up / ctrl+down recall. It is
// shared by every composer in a session.
type History struct {
	mu      sync.Mutex
	entries []string
	index   int
	limit   int
}

// NewHistory keeps at most limit entries (50 when limit <= 0).
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return &History{limit: limit}
}

// Add appends a sent message and resets the recall position.
func (h *History) Add(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if message == "" {
		return
	}
	if n := len(h.entries); n == 0 || h.entries[n-1] != message {
		h.entries = append(h.entries, message)
	}
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
	h.index = len(h.entries)
}

// Previous steps back and returns the older message, if any.
func (h *History) Previous() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == 0 {
		return "", false
	}
	h.index--
	return h.entries[h.index], true
}

// Next steps forward. Walking past the newest entry yields an empty message.
func (h *History) Next() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index >= len(h.entries) {
		return "", false
	}
	h.index++
	if h.index == len(h.entries) {
		return "", true
	}
	return h.entries[h.index], true
}

// Len returns the number of remembered messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
