package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps documents in process memory. It backs tests and the "memory" driver.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]Document
	counters map[string]map[string]float64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]Document),
		counters: make(map[string]map[string]float64),
		now:      time.Now,
	}
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

func (m *Memory) Get(_ context.Context, key string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[key]
	if !ok {
		return Document{}, ErrNotFound
	}
	d.Data = clone(d.Data)
	return d, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.docs[key]
	m.docs[key] = Document{Key: key, Data: clone(data), Version: d.Version + 1, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) InsertIfAbsent(_ context.Context, key string, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[key]; ok {
		return false, nil
	}
	m.docs[key] = Document{Key: key, Data: clone(data), Version: 1, UpdatedAt: m.now()}
	return true, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, key string, version int64, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[key]
	if !ok || d.Version != version {
		return false, nil
	}
	m.docs[key] = Document{Key: key, Data: clone(data), Version: version + 1, UpdatedAt: m.now()}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[key]; !ok {
		return false, nil
	}
	delete(m.docs, key)
	return true, nil
}

func (m *Memory) DeleteVersion(_ context.Context, key string, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[key]
	if !ok || d.Version != version {
		return false, nil
	}
	delete(m.docs, key)
	return true, nil
}

func (m *Memory) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindByPrefix(_ context.Context, prefix string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Document
	for k, d := range m.docs {
		if strings.HasPrefix(k, prefix) {
			d.Data = clone(d.Data)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Increment(_ context.Context, key, field string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = make(map[string]float64)
		m.counters[key] = c
	}
	c[field] += delta
	return c[field], nil
}

func (m *Memory) Counters(_ context.Context, key string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.counters[key]))
	for f, v := range m.counters[key] {
		out[f] = v
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
