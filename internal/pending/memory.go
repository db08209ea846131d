package pending

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	raw     []byte
	expires time.Time
}

// Memory is the in-process Store used when no redis address is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store. ttl <= 0 uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, c Capture) (string, error) {
	c.ID = IDFor(c)
	if c.HeldAt.IsZero() {
		c.HeldAt = m.now().UTC()
	}
	raw, err := encode(c)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[c.ID] = entry{raw: raw, expires: m.now().Add(m.ttl)}
	return c.ID, nil
}

func (m *Memory) Get(_ context.Context, id string) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()

	e, ok := m.entries[id]
	if !ok {
		return Capture{}, ErrNotFound
	}
	return decode(e.raw)
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) List(_ context.Context) ([]Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()

	out := make([]Capture, 0, len(m.entries))
	for _, e := range m.entries {
		c, err := decode(e.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) Bytes(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()

	var n int64
	for _, e := range m.entries {
		n += int64(len(e.raw))
	}
	return n, nil
}

// prune drops expired entries. Callers hold mu.
func (m *Memory) prune() {
	now := m.now()
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}
}
