package logger

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultRingSize caps the number of entries a Ring keeps.
const DefaultRingSize = 10_000

// Entry is a log line as served by the admin dashboard.
type Entry struct {
	Timestamp int64  `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Ring keeps the most recent log entries and fans new ones out to
// subscribers.  Slow subscribers miss entries rather than block logging.
type Ring struct {
	mu      sync.Mutex
	size    int
	entries []Entry
	subs    map[chan Entry]struct{}
}

// NewRing returns a Ring holding at most size entries (DefaultRingSize when
// size <= 0).
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{
		size:    size,
		entries: make([]Entry, 0, 512),
		subs:    make(map[chan Entry]struct{}),
	}
}

// hook is registered with zap.Hooks.  Fields are not included; the message
// and level are enough for the dashboard view.
func (r *Ring) hook(e zapcore.Entry) error {
	r.Add(Entry{
		Timestamp: e.Time.UnixMilli(),
		Level:     e.Level.CapitalString(),
		Message:   e.Message,
	})
	return nil
}

// Add appends e and notifies subscribers.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)
	if len(r.entries) > r.size {
		r.entries = r.entries[len(r.entries)-r.size:]
	}
	for ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n of the newest entries, oldest first.  n <= 0 returns
// everything.
func (r *Ring) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if n > 0 && n < len(r.entries) {
		start = len(r.entries) - n
	}
	out := make([]Entry, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}

// Subscribe registers a channel that receives new entries.  Call the
// returned function to unsubscribe.
func (r *Ring) Subscribe(buffer int) (<-chan Entry, func()) {
	ch := make(chan Entry, buffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
}
