package store

import (
	"context"
	"sync"
)

type memoryEntry struct {
	data    []byte
	version int64
}

// Memory keeps documents in process memory. Documents are stored serialized so
// callers never share nodes with the store.
type Memory struct {
	mu   sync.Mutex
	docs map[string]memoryEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memoryEntry)}
}

func (m *Memory) Load(_ context.Context, user string) (*Document, error) {
	m.mu.Lock()
	e, ok := m.docs[user]
	m.mu.Unlock()
	if !ok {
		return NewDocument(), nil
	}

	root, err := Decode(e.data)
	if err != nil {
		return nil, err
	}
	return &Document{Root: root, Version: e.version}, nil
}

func (m *Memory) Save(_ context.Context, user string, doc *Document) error {
	data, err := Encode(doc.Root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[user].version != doc.Version {
		return ErrVersionConflict
	}
	doc.Version++
	m.docs[user] = memoryEntry{data: data, version: doc.Version}
	return nil
}

func (m *Memory) Type() string { return "memory" }

func (m *Memory) Close() error { return nil }
