// Copyright 2026 © The Concierge Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript keeps what was said in each session: a bounded
// in-memory history used as context for smalltalk replies, and an optional
// SQLite audit log of every turn. Neither is ever replayed into a session.
package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one utterance or reply.
type Entry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Capability string    `json:"capability,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store keeps ordered per-session history.
type Store interface {
	// Append adds an entry, filling ID and CreatedAt when empty.
	Append(ctx context.Context, entry Entry) error

	// Recent returns at most limit entries, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Clear drops the history of a session.
	Clear(ctx context.Context, sessionID string) error
}

// InMemory is a Store that keeps a sliding window of entries per session.
type InMemory struct {
	mu         sync.RWMutex
	sessions   map[string][]Entry
	maxEntries int
}

// NewInMemory keeps at most maxEntries per session; zero or less means no bound.
func NewInMemory(maxEntries int) *InMemory {
	return &InMemory{
		sessions:   make(map[string][]Entry),
		maxEntries: maxEntries,
	}
}

// Append implements Store.
func (m *InMemory) Append(_ context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.sessions[entry.SessionID], entry)
	if m.maxEntries > 0 && len(entries) > m.maxEntries {
		entries = append([]Entry(nil), entries[len(entries)-m.maxEntries:]...)
	}
	m.sessions[entry.SessionID] = entries
	return nil
}

// Recent implements Store.
func (m *InMemory) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Entry, len(all))
	copy(out, all)
	return out, nil
}

// Clear implements Store.
func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}
