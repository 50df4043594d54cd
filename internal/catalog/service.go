// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// CreateBookParams carries the fields catalog management supplies for a
// new title. Borrower state always starts empty.
type CreateBookParams struct {
	ISBN        string   `json:"isbn"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Publisher   string   `json:"publisher"`
	PublishYear int      `json:"publish_year"`
	Categories  []string `json:"categories"`
	Description string   `json:"description"`
	ImageURL    string   `json:"image_url"`
	TotalCopies int      `json:"total_copies"`
}

// UpdateBookParams is a partial edit; nil fields are left unchanged.
// Borrower state is never editable through this path, it belongs to the
// lending ledger.
type UpdateBookParams struct {
	ISBN        *string  `json:"isbn"`
	Title       *string  `json:"title"`
	Authors     []string `json:"authors"`
	Publisher   *string  `json:"publisher"`
	PublishYear *int     `json:"publish_year"`
	Categories  []string `json:"categories"`
	Description *string  `json:"description"`
	ImageURL    *string  `json:"image_url"`
	TotalCopies *int     `json:"total_copies"`
}

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, params CreateBookParams) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	EditBook(ctx context.Context, id uuid.UUID, changes UpdateBookParams) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
	ListBooks(ctx context.Context, filter Filter) ([]*Book, error)
}
