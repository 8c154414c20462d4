package history

import "sync"

// DefaultCapacity is the number of items kept when no capacity is configured.
const DefaultCapacity = 50

// Item is a single history entry. Model is set only for backend replies.
type Item struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// IsReply reports whether the item was produced by a backend.
func (i Item) IsReply() bool {
	return i.Model != ""
}

// Prompt is the subset of a rendered prompt the log records.
type Prompt interface {
	UserText() string
	SystemText() string
}

// Log is a bounded, newest-first record of rendered prompts and replies.
type Log struct {
	mu       sync.RWMutex
	items    []Item
	capacity int
}

// New creates a Log holding at most capacity items.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, items: make([]Item, 0, capacity+1)}
}

// PushPrompt records a rendered prompt as system text followed by user text.
func (l *Log) PushPrompt(p Prompt) {
	l.push(Item{Text: p.SystemText() + p.UserText()})
}

// PushReply records a backend reply.
func (l *Log) PushReply(text, model string) {
	l.push(Item{Text: text, Model: model})
}

func (l *Log) push(item Item) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, Item{})
	copy(l.items[1:], l.items)
	l.items[0] = item
	if len(l.items) > l.capacity {
		l.items = l.items[:l.capacity]
	}
}

// Get returns the item at index, 0 being the most recent.
func (l *Log) Get(index int) (Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 0 || index >= len(l.items) {
		return Item{}, false
	}
	return l.items[index], true
}

// Len returns the number of stored items.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Capacity returns the configured capacity.
func (l *Log) Capacity() int {
	return l.capacity
}

// Items returns a copy of all items, newest first.
func (l *Log) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// LatestReply returns the most recent item if it is a reply, else "".
func (l *Log) LatestReply() string {
	item, ok := l.Get(0)
	if !ok || !item.IsReply() {
		return ""
	}
	return item.Text
}

// Replies returns the run of consecutive replies at the head of the log,
// newest first. It stops at the first prompt item.
func (l *Log) Replies() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	replies := []string{}
	for _, item := range l.items {
		if !item.IsReply() {
			break
		}
		replies = append(replies, item.Text)
	}
	return replies
}
