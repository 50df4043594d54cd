// internal/catalog/store.go
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("book not found")
	ErrDuplicateTitle  = errors.New("a book with this title already exists")
	ErrVersionConflict = errors.New("book version conflict")
	ErrUnavailable     = errors.New("catalog storage unavailable")
	ErrInvalid         = errors.New("invalid book")

	// ErrHasActiveBorrowers guards deletion: a title cannot leave the
	// catalogue while members still hold copies of it.
	ErrHasActiveBorrowers = errors.New("book still has active borrowers")
)

// Filter narrows a catalogue listing. Substring fields match
// case-insensitively; Categories requires the book to carry every
// listed category.
type Filter struct {
	Author     string
	Title      string
	Status     string
	Categories []string
}

// Store is the persistence contract for Book aggregates. Update is a
// compare-and-swap on the aggregate version: a mismatch on an existing
// row fails with ErrVersionConflict and leaves the row untouched.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Book, error)
	Create(ctx context.Context, book *Book) error
	Update(ctx context.Context, book *Book) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter Filter) ([]*Book, error)
}
