// Package kvstore provides the string key-value storage the session manager
// and dispatch cooldowns persist through.
package kvstore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable marks a failure of the underlying storage (disk full,
// locked database, closed store). Callers degrade instead of failing.
var ErrUnavailable = errors.New("storage unavailable")

// Store is a flat string key-value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Scope names a storage partition with its own lifetime.
type Scope string

const (
	// ScopeLocal survives restarts (session records, artifacts).
	ScopeLocal Scope = "local"
	// ScopeSession is purged when the process starts (dispatch cooldowns).
	ScopeSession Scope = "session"
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
