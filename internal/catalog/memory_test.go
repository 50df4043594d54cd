// internal/catalog/memory_test.go
package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBook(t *testing.T, store *MemoryStore, title string, copies int) *Book {
	t.Helper()
	book := &Book{
		Title:       title,
		Authors:     []string{"Some Author"},
		TotalCopies: copies,
	}
	require.NoError(t, store.Create(context.Background(), book))
	return book
}

func TestMemoryStoreCreateAssignsIdentityAndVersion(t *testing.T) {
	store := NewMemoryStore()
	book := seedBook(t, store, "Dune", 2)

	assert.NotEqual(t, uuid.Nil, book.ID)
	assert.Equal(t, 1, book.Version)
	assert.False(t, book.CreatedAt.IsZero())
}

func TestMemoryStoreCreateRejectsDuplicateTitle(t *testing.T) {
	store := NewMemoryStore()
	seedBook(t, store, "Dune", 2)

	dup := &Book{Title: "dune", Authors: []string{"F. Herbert"}, TotalCopies: 1}
	err := store.Create(context.Background(), dup)
	assert.ErrorIs(t, err, ErrDuplicateTitle)
}

func TestMemoryStoreGetReturnsIsolatedCopy(t *testing.T) {
	store := NewMemoryStore()
	book := seedBook(t, store, "Dune", 2)

	first, err := store.Get(context.Background(), book.ID)
	require.NoError(t, err)
	first.AddBorrower(uuid.New())

	second, err := store.Get(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Empty(t, second.Borrowers)
}

func TestMemoryStoreUpdateIsCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	book := seedBook(t, store, "Dune", 2)
	ctx := context.Background()

	stale, err := store.Get(ctx, book.ID)
	require.NoError(t, err)
	fresh, err := store.Get(ctx, book.ID)
	require.NoError(t, err)

	fresh.AddBorrower(uuid.New())
	require.NoError(t, store.Update(ctx, fresh))
	assert.Equal(t, 2, fresh.Version)

	stale.TotalCopies = 9
	err = store.Update(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The losing write left nothing behind.
	current, err := store.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.TotalCopies)
	assert.Len(t, current.Borrowers, 1)
}

func TestMemoryStoreUpdateUnknownBook(t *testing.T) {
	store := NewMemoryStore()
	ghost := &Book{ID: uuid.New(), Title: "Ghost", Authors: []string{"A"}, TotalCopies: 1, Version: 1}
	assert.ErrorIs(t, store.Update(context.Background(), ghost), ErrNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	book := seedBook(t, store, "Dune", 2)
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx, book.ID))
	_, err := store.Get(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, book.ID), ErrNotFound)
}

func TestMemoryStoreListSortsByTitle(t *testing.T) {
	store := NewMemoryStore()
	seedBook(t, store, "Zen and the Art of Motorcycle Maintenance", 1)
	seedBook(t, store, "Anna Karenina", 1)
	seedBook(t, store, "Moby-Dick", 1)

	books, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "Anna Karenina", books[0].Title)
	assert.Equal(t, "Moby-Dick", books[1].Title)
	assert.Equal(t, "Zen and the Art of Motorcycle Maintenance", books[2].Title)
}

func TestMemoryStoreListFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	austen := &Book{
		Title:       "Pride and Prejudice",
		Authors:     []string{"Jane Austen"},
		Categories:  []string{"classic", "romance"},
		TotalCopies: 1,
	}
	require.NoError(t, store.Create(ctx, austen))

	tolstoy := &Book{
		Title:       "War and Peace",
		Authors:     []string{"Leo Tolstoy"},
		Categories:  []string{"classic", "war"},
		TotalCopies: 0, // nothing to lend
	}
	require.NoError(t, store.Create(ctx, tolstoy))

	t.Run("author substring is case-insensitive", func(t *testing.T) {
		books, err := store.List(ctx, Filter{Author: "AUSTEN"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Pride and Prejudice", books[0].Title)
	})

	t.Run("title substring", func(t *testing.T) {
		books, err := store.List(ctx, Filter{Title: "peace"})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "War and Peace", books[0].Title)
	})

	t.Run("status matches derived availability", func(t *testing.T) {
		books, err := store.List(ctx, Filter{Status: StatusUnavailable})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "War and Peace", books[0].Title)
	})

	t.Run("categories require every listed entry", func(t *testing.T) {
		books, err := store.List(ctx, Filter{Categories: []string{"classic", "romance"}})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Pride and Prejudice", books[0].Title)

		books, err = store.List(ctx, Filter{Categories: []string{"classic"}})
		require.NoError(t, err)
		assert.Len(t, books, 2)

		books, err = store.List(ctx, Filter{Categories: []string{"classic", "scifi"}})
		require.NoError(t, err)
		assert.Empty(t, books)
	})

	t.Run("combined filters intersect", func(t *testing.T) {
		books, err := store.List(ctx, Filter{Author: "tolstoy", Categories: []string{"romance"}})
		require.NoError(t, err)
		assert.Empty(t, books)
	})
}
