// internal/lending/ledger.go
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/catalog"
	"librarium/internal/membership"
)

const (
	defaultMaxTries     = 4
	compensationRetries = 3
)

// Option configures the ledger.
type Option func(*service)

// WithClock overrides the time source, so due dates are deterministic
// under test.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithMaxTries bounds how often an operation is replayed after losing a
// version race.
func WithMaxTries(n uint) Option {
	return func(s *service) { s.maxTries = n }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

// service implements the Service interface. Each operation loads both
// aggregates fresh, validates preconditions against both sides, then
// commits user first and book second. The book commit is the linearizing
// step for availability: its version CAS serializes all copy-count
// changes per book, so availability can never be driven negative. A
// failed book commit rolls the user commit back.
type service struct {
	books   catalog.Store
	members membership.Store

	now      func() time.Time
	maxTries uint
	log      *slog.Logger

	tracer    trace.Tracer
	borrowOps metric.Int64Counter
	returnOps metric.Int64Counter
}

// NewService creates a lending ledger over the two injected stores.
func NewService(books catalog.Store, members membership.Store, opts ...Option) Service {
	meter := otel.Meter("librarium/lending")
	borrows, _ := meter.Int64Counter("lending.borrow.total",
		metric.WithDescription("Borrow operations by outcome"))
	returns, _ := meter.Int64Counter("lending.return.total",
		metric.WithDescription("Return operations by outcome"))

	s := &service{
		books:     books,
		members:   members,
		now:       time.Now,
		maxTries:  defaultMaxTries,
		log:       slog.Default(),
		tracer:    otel.Tracer("librarium/lending"),
		borrowOps: borrows,
		returnOps: returns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow lends one copy of a book to the acting user.
func (s *service) Borrow(ctx context.Context, actingUserID, bookID uuid.UUID) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "lending.borrow",
		trace.WithAttributes(
			attribute.String("user.id", actingUserID.String()),
			attribute.String("book.id", bookID.String()),
		))
	defer span.End()

	receipt, err := s.withRetry(ctx, func() (*Receipt, error) {
		return s.borrowOnce(ctx, actingUserID, bookID)
	})
	s.borrowOps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeOf(err))))
	return receipt, err
}

// Return gives a borrowed copy back.
func (s *service) Return(ctx context.Context, actingUserID, bookID uuid.UUID) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "lending.return",
		trace.WithAttributes(
			attribute.String("user.id", actingUserID.String()),
			attribute.String("book.id", bookID.String()),
		))
	defer span.End()

	receipt, err := s.withRetry(ctx, func() (*Receipt, error) {
		return s.returnOnce(ctx, actingUserID, bookID)
	})
	s.returnOps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcomeOf(err))))
	return receipt, err
}

func (s *service) borrowOnce(ctx context.Context, userID, bookID uuid.UUID) (*Receipt, error) {
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	user, err := s.members.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	// Both sides are checked: if the aggregates ever disagree, the pair
	// is treated as borrowed rather than handing out a second copy.
	if user.HasActiveBorrow(bookID) || book.HasBorrower(userID) {
		return nil, ErrAlreadyBorrowed
	}
	if book.Available() <= 0 {
		return nil, ErrOutOfStock
	}

	now := s.now().UTC()
	user.AddBorrow(bookID, now, now.Add(LoanPeriod))
	book.AddBorrower(userID)

	if err := s.members.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("commit user: %w", err)
	}
	if err := s.books.Update(ctx, book); err != nil {
		s.undoUserBorrow(ctx, userID, bookID)
		return nil, fmt.Errorf("commit book: %w", err)
	}

	return receiptFor(user, book), nil
}

func (s *service) returnOnce(ctx context.Context, userID, bookID uuid.UUID) (*Receipt, error) {
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("load book: %w", err)
	}
	user, err := s.members.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	// Fail closed on one-sided state: a return needs both aggregates to
	// agree that the borrow exists.
	if !user.HasActiveBorrow(bookID) || !book.HasBorrower(userID) {
		return nil, ErrNotBorrowed
	}

	original := user.ActiveBorrows[bookID]
	now := s.now().UTC()
	user.CompleteBorrow(bookID, now)
	book.RemoveBorrower(userID)

	if err := s.members.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("commit user: %w", err)
	}
	if err := s.books.Update(ctx, book); err != nil {
		s.undoUserReturn(ctx, userID, bookID, original)
		return nil, fmt.Errorf("commit book: %w", err)
	}

	return receiptFor(user, book), nil
}

// withRetry replays an operation that lost a version race on either
// aggregate. Business-rule failures and storage unavailability are
// permanent; only optimistic-lock conflicts are worth another attempt.
func (s *service) withRetry(ctx context.Context, op func() (*Receipt, error)) (*Receipt, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	receipt, err := backoff.Retry(ctx, func() (*Receipt, error) {
		receipt, err := op()
		if err != nil && !isVersionConflict(err) {
			return nil, backoff.Permanent(err)
		}
		return receipt, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.maxTries))

	if err != nil && isVersionConflict(err) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return receipt, err
}

// undoUserBorrow compensates a borrow whose book-side commit failed: the
// user-side entry is removed again so no half-applied borrow survives.
func (s *service) undoUserBorrow(ctx context.Context, userID, bookID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < compensationRetries; attempt++ {
		user, err := s.members.Get(ctx, userID)
		if err != nil {
			break
		}
		if !user.HasActiveBorrow(bookID) {
			return
		}
		user.DropBorrow(bookID)
		err = s.members.Update(ctx, user)
		if err == nil {
			return
		}
		if !errors.Is(err, membership.ErrVersionConflict) {
			break
		}
	}
	s.log.ErrorContext(ctx, "borrow compensation failed, user-side entry is orphaned",
		"user_id", userID, "book_id", bookID)
}

// undoUserReturn compensates a return whose book-side commit failed: the
// active entry comes back with its original dates and the history record
// is dropped.
func (s *service) undoUserReturn(ctx context.Context, userID, bookID uuid.UUID, original membership.BorrowRecord) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < compensationRetries; attempt++ {
		user, err := s.members.Get(ctx, userID)
		if err != nil {
			break
		}
		if user.HasActiveBorrow(bookID) {
			return
		}
		user.RestoreBorrow(bookID, original)
		err = s.members.Update(ctx, user)
		if err == nil {
			return
		}
		if !errors.Is(err, membership.ErrVersionConflict) {
			break
		}
	}
	s.log.ErrorContext(ctx, "return compensation failed, user-side entry is orphaned",
		"user_id", userID, "book_id", bookID)
}

func receiptFor(user *membership.User, book *catalog.Book) *Receipt {
	return &Receipt{
		User: UserSummary{
			ID:            user.ID,
			FullName:      user.FullName,
			Username:      user.Username,
			ActiveBorrows: user.ActiveBorrows,
			ReturnHistory: user.ReturnHistory,
		},
		Book: BookSummary{
			ID:          book.ID,
			Title:       book.Title,
			TotalCopies: book.TotalCopies,
			Available:   book.Available(),
			Status:      book.Status(),
		},
	}
}

func isVersionConflict(err error) bool {
	return errors.Is(err, catalog.ErrVersionConflict) || errors.Is(err, membership.ErrVersionConflict)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrAlreadyBorrowed):
		return "already_borrowed"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrNotBorrowed):
		return "not_borrowed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, membership.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, membership.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
