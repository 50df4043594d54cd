// internal/catalog/implementation_test.go
package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store), store
}

func TestAddBookValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateBookParams
	}{
		{"missing title", CreateBookParams{Authors: []string{"A"}, TotalCopies: 1}},
		{"no authors", CreateBookParams{Title: "T", TotalCopies: 1}},
		{"blank author", CreateBookParams{Title: "T", Authors: []string{""}, TotalCopies: 1}},
		{"negative copies", CreateBookParams{Title: "T", Authors: []string{"A"}, TotalCopies: -1}},
		{"too many copies", CreateBookParams{Title: "T", Authors: []string{"A"}, TotalCopies: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AddBook(ctx, tc.params)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestAddBookAtCopyBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	zero, err := svc.AddBook(ctx, CreateBookParams{Title: "Zero", Authors: []string{"A"}, TotalCopies: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Available())
	assert.Equal(t, StatusUnavailable, zero.Status())

	ten, err := svc.AddBook(ctx, CreateBookParams{Title: "Ten", Authors: []string{"A"}, TotalCopies: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, ten.Available())
}

func TestAddBookDuplicateTitle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddBook(ctx, CreateBookParams{Title: "Dune", Authors: []string{"F. Herbert"}, TotalCopies: 1})
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, CreateBookParams{Title: "Dune", Authors: []string{"Someone Else"}, TotalCopies: 1})
	assert.ErrorIs(t, err, ErrDuplicateTitle)
}

func TestEditBookAppliesPartialChanges(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, CreateBookParams{
		Title:       "Dune",
		Authors:     []string{"F. Herbert"},
		Publisher:   "Chilton",
		TotalCopies: 2,
	})
	require.NoError(t, err)

	newTitle := "Dune Messiah"
	copies := 5
	updated, err := svc.EditBook(ctx, book.ID, UpdateBookParams{
		Title:       &newTitle,
		TotalCopies: &copies,
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 5, updated.TotalCopies)
	// Untouched fields survive.
	assert.Equal(t, "Chilton", updated.Publisher)
	assert.Equal(t, []string{"F. Herbert"}, updated.Authors)
}

func TestEditBookCannotShrinkBelowActiveBorrowers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, CreateBookParams{Title: "Dune", Authors: []string{"F. Herbert"}, TotalCopies: 3})
	require.NoError(t, err)

	// Two copies out on loan.
	stored, err := store.Get(ctx, book.ID)
	require.NoError(t, err)
	stored.AddBorrower(uuid.New())
	stored.AddBorrower(uuid.New())
	require.NoError(t, store.Update(ctx, stored))

	one := 1
	_, err = svc.EditBook(ctx, book.ID, UpdateBookParams{TotalCopies: &one})
	assert.ErrorIs(t, err, ErrInvalid)

	two := 2
	updated, err := svc.EditBook(ctx, book.ID, UpdateBookParams{TotalCopies: &two})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Available())
}

func TestEditBookPreservesConcurrentBorrowerState(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, CreateBookParams{Title: "Dune", Authors: []string{"F. Herbert"}, TotalCopies: 3})
	require.NoError(t, err)

	// A copy goes out on loan before the edit; the edit must land on
	// the latest state and keep the borrower.
	stored, err := store.Get(ctx, book.ID)
	require.NoError(t, err)
	stored.AddBorrower(uuid.New())
	require.NoError(t, store.Update(ctx, stored))

	desc := "A desert planet"
	updated, err := svc.EditBook(ctx, book.ID, UpdateBookParams{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "A desert planet", updated.Description)
	assert.Len(t, updated.Borrowers, 1)
}

func TestRemoveBookBlockedByActiveBorrowers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, CreateBookParams{Title: "Dune", Authors: []string{"F. Herbert"}, TotalCopies: 1})
	require.NoError(t, err)

	borrower := uuid.New()
	stored, err := store.Get(ctx, book.ID)
	require.NoError(t, err)
	stored.AddBorrower(borrower)
	require.NoError(t, store.Update(ctx, stored))

	err = svc.RemoveBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrHasActiveBorrowers)

	// After the copy comes back the delete goes through.
	stored, err = store.Get(ctx, book.ID)
	require.NoError(t, err)
	stored.RemoveBorrower(borrower)
	require.NoError(t, store.Update(ctx, stored))

	require.NoError(t, svc.RemoveBook(ctx, book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBorrowerSetJSONRoundTrip(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	set := BorrowerSet{b: {}, a: {}}
	data, err := set.MarshalJSON()
	require.NoError(t, err)
	// Sorted by string form, independent of map iteration order.
	assert.JSONEq(t,
		`["00000000-0000-0000-0000-00000000000a","00000000-0000-0000-0000-00000000000b"]`,
		string(data))

	var decoded BorrowerSet
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, set, decoded)
}
