package llm

import (
	"sync"
)

// ChatHistory is a concurrency-safe conversation buffer.
type ChatHistory struct {
	messages []Message
	mu       sync.RWMutex
}

// NewChatHistory creates an empty history, optionally seeded with messages.
func NewChatHistory(seed ...Message) *ChatHistory {
	h := &ChatHistory{messages: make([]Message, 0, len(seed))}
	h.messages = append(h.messages, seed...)
	return h
}

// Add appends messages in order.
func (h *ChatHistory) Add(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msgs...)
}

// GetMessages returns a copy of the current history.
func (h *ChatHistory) GetMessages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// Len returns the number of stored messages.
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear drops every message.
func (h *ChatHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = h.messages[:0]
}

// TrimToTokens returns the most recent messages fitting within budget.
// The stored history is left untouched.
func (h *ChatHistory) TrimToTokens(budget int, count TokenCounter) []Message {
	return TrimToTokenBudget(h.GetMessages(), budget, count)
}
