package store

import (
	"bytes"
	"errors"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned by a Storage after Close.
var ErrClosed = errors.New("storage closed")

// Storage is a minimal byte-oriented key/value store.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	DeleteAll() error
	Close() error
}

// MemStorage is an in-memory Storage. Values are copied on the way in and out.
type MemStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemStorage returns an empty MemStorage.
func NewMemStorage() *MemStorage {
	return &MemStorage{data: make(map[string][]byte)}
}

func (m *MemStorage) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *MemStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data[key] = bytes.Clone(value)
	return nil
}

func (m *MemStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemStorage) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	clear(m.data)
	return nil
}

// Close releases the data; later calls fail with ErrClosed.
func (m *MemStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Serialize encodes v with msgpack.
func Serialize(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Deserialize decodes msgpack data into v.
func Deserialize(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
