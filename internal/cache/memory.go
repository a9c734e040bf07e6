package cache

import (
	"sync"
	"sync/atomic"
)

// Memory is a size bounded LRU cache. It is safe for concurrent use.
type Memory struct {
	entries     map[Key]*memoryEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	// LRU list with sentinel head and tail
	head *memoryEntry
	tail *memoryEntry
	// statistics
	hits      int64
	misses    int64
	sets      int64
	evictions int64
}

type memoryEntry struct {
	key   Key
	value []byte
	prev  *memoryEntry
	next  *memoryEntry
}

// Stats summarizes cache activity.
type Stats struct {
	Entries   int
	Size      int64
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// NewMemory returns an LRU holding at most maxSize bytes of values.
func NewMemory(maxSize int64) *Memory {
	m := &Memory{
		entries: make(map[Key]*memoryEntry),
		maxSize: maxSize,
		head:    &memoryEntry{},
		tail:    &memoryEntry{},
	}
	m.head.next = m.tail
	m.tail.prev = m.head

	return m
}

// Get implements Cache.
func (m *Memory) Get(key Key) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	m.moveToFront(entry)
	atomic.AddInt64(&m.hits, 1)

	return entry.value, true
}

// Put implements Cache. Values larger than the cache are not stored.
func (m *Memory) Put(key Key, value []byte) error {
	size := int64(len(value))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if size > m.maxSize {
		return nil
	}

	if existing, ok := m.entries[key]; ok {
		m.currentSize += size - int64(len(existing.value))
		existing.value = value
		m.moveToFront(existing)
		m.evictIfNeeded(0)
		atomic.AddInt64(&m.sets, 1)
		return nil
	}

	m.evictIfNeeded(size)

	entry := &memoryEntry{key: key, value: value}
	m.entries[key] = entry
	m.currentSize += size
	m.addToFront(entry)
	atomic.AddInt64(&m.sets, 1)

	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.entries)
}

// Clear drops every entry and resets the statistics.
func (m *Memory) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[Key]*memoryEntry)
	m.currentSize = 0
	m.head.next = m.tail
	m.tail.prev = m.head

	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
	atomic.StoreInt64(&m.sets, 0)
	atomic.StoreInt64(&m.evictions, 0)
}

// Stats returns a snapshot of the cache statistics.
func (m *Memory) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return Stats{
		Entries:   len(m.entries),
		Size:      m.currentSize,
		Hits:      atomic.LoadInt64(&m.hits),
		Misses:    atomic.LoadInt64(&m.misses),
		Sets:      atomic.LoadInt64(&m.sets),
		Evictions: atomic.LoadInt64(&m.evictions),
	}
}

// evictIfNeeded drops least recently used entries until newSize more bytes
// fit.
func (m *Memory) evictIfNeeded(newSize int64) {
	for m.currentSize+newSize > m.maxSize && m.tail.prev != m.head {
		lru := m.tail.prev
		m.removeFromList(lru)
		delete(m.entries, lru.key)
		m.currentSize -= int64(len(lru.value))
		atomic.AddInt64(&m.evictions, 1)
	}
}

func (m *Memory) addToFront(entry *memoryEntry) {
	entry.prev = m.head
	entry.next = m.head.next
	m.head.next.prev = entry
	m.head.next = entry
}

func (m *Memory) removeFromList(entry *memoryEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (m *Memory) moveToFront(entry *memoryEntry) {
	m.removeFromList(entry)
	m.addToFront(entry)
}
