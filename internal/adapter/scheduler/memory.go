package scheduler

import (
	"sync"

	"jobsyncbot/internal/domain/listing"
)

// Memory хранит предыдущий снимок. Один экземпляр может переживать несколько
// планировщиков (например, при переподключении), чтобы не объявлять старые вакансии повторно.
type Memory struct {
	mu       sync.RWMutex
	previous listing.Snapshot
	filled   bool
}

// NewMemory создает пустую память: первый цикл объявит весь снимок.
func NewMemory() *Memory {
	return &Memory{}
}

// Previous возвращает копию предыдущего снимка.
func (m *Memory) Previous() listing.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(listing.Snapshot(nil), m.previous...)
}

// Replace запоминает снимок как предыдущий.
func (m *Memory) Replace(s listing.Snapshot) {
	cp := append(listing.Snapshot(nil), s...)
	m.mu.Lock()
	m.previous = cp
	m.filled = true
	m.mu.Unlock()
}

// Len возвращает размер предыдущего снимка.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.previous)
}

// Filled сообщает, был ли сохранен хотя бы один снимок.
func (m *Memory) Filled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filled
}
