package kv

import (
	"context"
	"fmt"
	"strings"
)

// MemoryStore keeps pairs in a map. A Quota of zero means unlimited.
type MemoryStore struct {
	Quota int64
	data  map[string]string
}

func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{Quota: quota, data: map[string]string{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) SetMany(_ context.Context, pairs map[string]string) error {
	for k := range pairs {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("kv key is required")
		}
	}
	if m.Quota > 0 {
		var total int64
		for k, v := range m.data {
			if _, replaced := pairs[k]; !replaced {
				total += usage(k, v)
			}
		}
		for k, v := range pairs {
			total += usage(k, v)
		}
		if total > m.Quota {
			return fmt.Errorf("write %d bytes over quota %d: %w", total, m.Quota, ErrQuotaExceeded)
		}
	}
	if m.data == nil {
		m.data = map[string]string{}
	}
	for k, v := range pairs {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

// Put bypasses the quota; tests use it to plant raw records.
func (m *MemoryStore) Put(key, value string) {
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[key] = value
}
