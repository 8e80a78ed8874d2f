package auditlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"signato.org/internal/ids"
)

// Log is the append-only persistence boundary. There are deliberately no
// update or delete operations.
type Log interface {
	Append(ctx context.Context, entry *Entry) error
	AppendMany(ctx context.Context, entries []*Entry) error
	Find(ctx context.Context, envelopeID string, types ...EventType) ([]Entry, error)
}

// Memory implements Log in-process. CreatedAt is kept strictly increasing
// per envelope so replay order is total even when entries land within the
// same clock tick.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]Entry // envelopeID -> ordered entries
	last    map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string][]Entry),
		last:    make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (m *Memory) WithClock(fn func() time.Time) *Memory {
	if fn != nil {
		m.now = fn
	}
	return m
}

func (m *Memory) Append(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.append(entry)
	return nil
}

func (m *Memory) AppendMany(ctx context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.append(e)
	}
	return nil
}

func (m *Memory) append(entry *Entry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	ts := m.now().UTC()
	if last, ok := m.last[entry.EnvelopeID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	entry.CreatedAt = ts
	m.last[entry.EnvelopeID] = ts
	m.entries[entry.EnvelopeID] = append(m.entries[entry.EnvelopeID], *entry)
}

func (m *Memory) Find(ctx context.Context, envelopeID string, types ...EventType) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var want map[EventType]struct{}
	if len(types) > 0 {
		want = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			want[t] = struct{}{}
		}
	}

	var res []Entry
	for _, e := range m.entries[envelopeID] {
		if want != nil {
			if _, ok := want[e.Type]; !ok {
				continue
			}
		}
		res = append(res, e)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}
