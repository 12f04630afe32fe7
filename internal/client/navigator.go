package client

import "sync"

// Navigator owns the "which chat is open" state, the way a URL query does in
// a browser. The Controller reads the active chat from it instead of keeping
// its own copy.
type Navigator interface {
	ActiveChatID() string
	Navigate(chatID string)
}

// MemoryNavigator is a Navigator for front-ends without an address bar.
type MemoryNavigator struct {
	mu      sync.RWMutex
	chatID  string
	history []string
}

func NewMemoryNavigator() *MemoryNavigator {
	return &MemoryNavigator{}
}

func (n *MemoryNavigator) ActiveChatID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.chatID
}

func (n *MemoryNavigator) Navigate(chatID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chatID = chatID
	n.history = append(n.history, chatID)
}

// History lists every location visited, oldest first.
func (n *MemoryNavigator) History() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.history))
	copy(out, n.history)
	return out
}
