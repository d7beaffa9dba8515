package session

import (
	"context"
	"sync"

	"lexy/pkg/llm"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of sessions kept in memory when no size is configured.
const DefaultCacheSize = 1024

// entry serializes the turns of one session. Every mutation is written
// through to the store, so an evicted entry loses nothing.
type entry struct {
	mu   sync.Mutex
	hist *llm.ChatHistory
}

// Manager caches the most recently used histories and persists them through a Store.
type Manager struct {
	store Store
	cache *lru.Cache[string, *entry]
	mu    sync.Mutex // guards load-or-insert
}

// NewManager creates a Manager keeping at most cacheSize sessions in memory.
// A non-positive size selects DefaultCacheSize.
func NewManager(store Store, cacheSize int) *Manager {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	// only fails for a non-positive size
	cache, _ := lru.New[string, *entry](cacheSize)
	return &Manager{
		store: store,
		cache: cache,
	}
}

func (m *Manager) entry(ctx context.Context, sessionID string) (*entry, error) {
	if e, ok := m.cache.Get(sessionID); ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// double check under the lock
	if e, ok := m.cache.Get(sessionID); ok {
		return e, nil
	}

	msgs, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e := &entry{hist: llm.NewChatHistory(msgs...)}
	m.cache.Add(sessionID, e)
	return e, nil
}

// GetHistory returns the history of sessionID, loading it on first use.
// The returned value is for reading; use Append to extend it.
func (m *Manager) GetHistory(ctx context.Context, sessionID string) (*llm.ChatHistory, error) {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.hist, nil
}

// Append adds msgs to sessionID and persists the result.
func (m *Manager) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.hist.Add(msgs...)
	return m.store.Save(ctx, sessionID, e.hist.GetMessages())
}

// Save persists the cached history of sessionID. Sessions not in memory are a no-op.
func (m *Manager) Save(ctx context.Context, sessionID string) error {
	e, ok := m.cache.Peek(sessionID)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.store.Save(ctx, sessionID, e.hist.GetMessages())
}

// Reset clears a conversation both in memory and in the store. The cached
// history is emptied in place so holders of it see the reset.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	e, err := m.entry(ctx, sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.hist.Clear()
	return m.store.Save(ctx, sessionID, []llm.Message{})
}

// Cached reports how many sessions are held in memory.
func (m *Manager) Cached() int {
	return m.cache.Len()
}

func (m *Manager) Close() error {
	return m.store.Close()
}
