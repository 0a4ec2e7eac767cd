package cache

import (
	"bytes"
	"sync"
)

type Memory struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) CompareAndDelete(key string, expected []byte) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	current, ok := m.entries[key]
	if !ok || !bytes.Equal(current, expected) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Keys() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) Clear() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = map[string][]byte{}
	return nil
}
