// internal/catalog/memory.go
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory Store with the same
// compare-and-swap semantics as the postgres store. It backs tests and
// the storage-less development mode.
type MemoryStore struct {
	mu    sync.Mutex
	books map[uuid.UUID]*Book
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[uuid.UUID]*Book)}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	return book.Clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, book *Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.books {
		if strings.EqualFold(existing.Title, book.Title) {
			return ErrDuplicateTitle
		}
	}

	stored := book.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Version = 1
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.books[stored.ID] = stored

	*book = *stored.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, book *Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.books[book.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != book.Version {
		return ErrVersionConflict
	}
	for id, existing := range m.books {
		if id != book.ID && strings.EqualFold(existing.Title, book.Title) {
			return ErrDuplicateTitle
		}
	}

	stored := book.Clone()
	stored.Version = current.Version + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	m.books[stored.ID] = stored

	*book = *stored.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return ErrNotFound
	}
	delete(m.books, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Book
	for _, book := range m.books {
		if matchesFilter(book, filter) {
			result = append(result, book.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return result, nil
}

func matchesFilter(book *Book, filter Filter) bool {
	if filter.Title != "" && !containsFold(book.Title, filter.Title) {
		return false
	}
	if filter.Status != "" && !containsFold(book.Status(), filter.Status) {
		return false
	}
	if filter.Author != "" {
		found := false
		for _, author := range book.Authors {
			if containsFold(author, filter.Author) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range filter.Categories {
		found := false
		for _, have := range book.Categories {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
