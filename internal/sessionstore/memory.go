package sessionstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token    string
	idle     time.Duration
	lastSeen time.Time
}

// Memory is an in-process Store. Expired entries are dropped lazily on Get and by a janitor.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemory returns a Memory store. When sweepEvery > 0 a janitor goroutine removes expired
// entries at that interval until Close.
func NewMemory(sweepEvery time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go m.janitor(sweepEvery)
	}
	return m
}

func (m *Memory) Set(ctx context.Context, key, token string, idle time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memoryEntry{token: token, idle: idle, lastSeen: m.now()}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	now := m.now()
	if now.Sub(e.lastSeen) >= e.idle {
		delete(m.entries, key)
		return "", false, nil
	}
	e.lastSeen = now
	return e.token, true, nil
}

func (m *Memory) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) >= e.idle {
			delete(m.entries, k)
		}
	}
}

func (m *Memory) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}
