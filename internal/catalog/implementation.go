// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// editRetries bounds re-reads when a catalogue edit races the lending
// ledger on the same book. Persistent contention surfaces as
// ErrVersionConflict to the caller.
const editRetries = 3

// service implements the Service interface.
type service struct {
	store  Store
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(store Store) Service {
	return &service{
		store:  store,
		tracer: otel.Tracer("librarium/catalog"),
	}
}

// AddBook creates a new title in the catalogue.
func (s *service) AddBook(ctx context.Context, params CreateBookParams) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book",
		trace.WithAttributes(attribute.String("book.title", params.Title)))
	defer span.End()

	book := &Book{
		ISBN:        params.ISBN,
		Title:       params.Title,
		Authors:     params.Authors,
		Publisher:   params.Publisher,
		PublishYear: params.PublishYear,
		Categories:  params.Categories,
		Description: params.Description,
		ImageURL:    params.ImageURL,
		TotalCopies: params.TotalCopies,
		Borrowers:   BorrowerSet{},
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, book); err != nil {
		return nil, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a title by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.store.Get(ctx, id)
}

// EditBook applies a partial catalogue edit. The edit never touches
// borrower state; shrinking the copy count below the number of active
// borrowers is refused so availability cannot go negative.
func (s *service) EditBook(ctx context.Context, id uuid.UUID, changes UpdateBookParams) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.edit_book",
		trace.WithAttributes(attribute.String("book.id", id.String())))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < editRetries; attempt++ {
		book, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		applyChanges(book, changes)
		if err := book.Validate(); err != nil {
			return nil, err
		}

		err = s.store.Update(ctx, book)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update book: %w", err)
		}
		lastErr = err
	}
	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return nil, fmt.Errorf("update book after %d attempts: %w", editRetries, lastErr)
}

// RemoveBook deletes a title that has no copies out on loan.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_book",
		trace.WithAttributes(attribute.String("book.id", id.String())))
	defer span.End()

	book, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(book.Borrowers) > 0 {
		return fmt.Errorf("%w: %d outstanding", ErrHasActiveBorrowers, len(book.Borrowers))
	}
	return s.store.Delete(ctx, id)
}

// ListBooks returns a filtered catalogue listing sorted by title.
func (s *service) ListBooks(ctx context.Context, filter Filter) ([]*Book, error) {
	return s.store.List(ctx, filter)
}

func applyChanges(book *Book, changes UpdateBookParams) {
	if changes.ISBN != nil {
		book.ISBN = *changes.ISBN
	}
	if changes.Title != nil {
		book.Title = *changes.Title
	}
	if changes.Authors != nil {
		book.Authors = changes.Authors
	}
	if changes.Publisher != nil {
		book.Publisher = *changes.Publisher
	}
	if changes.PublishYear != nil {
		book.PublishYear = *changes.PublishYear
	}
	if changes.Categories != nil {
		book.Categories = changes.Categories
	}
	if changes.Description != nil {
		book.Description = *changes.Description
	}
	if changes.ImageURL != nil {
		book.ImageURL = *changes.ImageURL
	}
	if changes.TotalCopies != nil {
		book.TotalCopies = *changes.TotalCopies
	}
}
