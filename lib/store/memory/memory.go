// Package memory implements an in-process audit log repository.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tarancss/satp/lib/store"
)

// Memory keeps log rows in insertion order.
type Memory struct {
	mu   sync.RWMutex
	rows []store.LocalLog
	keys map[string]int
}

// New returns an empty repository.
func New() *Memory {
	return &Memory{keys: map[string]int{}}
}

// Create appends l, replacing an earlier row with the same key.
func (m *Memory) Create(_ context.Context, l store.LocalLog) error {
	if l.Key == "" {
		return store.ErrNoKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.keys[l.Key]; ok {
		m.rows = append(m.rows[:i], m.rows[i+1:]...)
		m.reindex()
	}

	m.keys[l.Key] = len(m.rows)
	m.rows = append(m.rows, l)

	return nil
}

func (m *Memory) reindex() {
	for i, r := range m.rows {
		m.keys[r.Key] = i
	}
}

// ReadByID returns the row stored under key.
func (m *Memory) ReadByID(_ context.Context, key string) (store.LocalLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.keys[key]
	if !ok {
		return store.LocalLog{}, store.ErrLogNotFound
	}

	return m.rows[i], nil
}

// ReadLastestLog returns the last row written for the session.
func (m *Memory) ReadLastestLog(_ context.Context, sessionID string) (store.LocalLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].SessionID == sessionID {
			return m.rows[i], nil
		}
	}

	return store.LocalLog{}, store.ErrLogNotFound
}

// ReadLogsBySession returns the rows of the session, oldest first.
func (m *Memory) ReadLogsBySession(_ context.Context, sessionID string) ([]store.LocalLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.LocalLog

	for _, r := range m.rows {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return nil, store.ErrLogNotFound
	}

	return out, nil
}

// FetchSessionIDs returns the sorted ids of every logged session.
func (m *Memory) FetchSessionIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]struct{}{}
	ids := []string{}

	for _, r := range m.rows {
		if _, ok := seen[r.SessionID]; ok {
			continue
		}

		seen[r.SessionID] = struct{}{}
		ids = append(ids, r.SessionID)
	}

	sort.Strings(ids)

	return ids, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
