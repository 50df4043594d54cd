// internal/lending/domain.go
package lending

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"librarium/internal/membership"
)

// LoanPeriod is how long a borrowed copy may be kept. The due date is
// always exactly the borrow time plus this period, recorded once on the
// user-side entry.
const LoanPeriod = 7 * 24 * time.Hour

var (
	// ErrAlreadyBorrowed is returned when either aggregate already
	// records an active borrow for the (user, book) pair. Disagreement
	// between the two sides is treated the same way: fail closed.
	ErrAlreadyBorrowed = errors.New("book already borrowed by this user")

	// ErrOutOfStock is returned when no copies remain to lend.
	ErrOutOfStock = errors.New("no copies of this book are available")

	// ErrNotBorrowed is returned by Return when either aggregate lacks
	// an active borrow for the pair. Fail closed here too: a one-sided
	// record is never "returned" on that one side.
	ErrNotBorrowed = errors.New("book is not borrowed by this user")

	// ErrConflict is surfaced after bounded retries keep losing
	// optimistic-version races on one of the aggregates.
	ErrConflict = errors.New("lending operation lost too many version races")
)

// BookSummary is the caller-facing projection of a book after a ledger
// operation.
type BookSummary struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	TotalCopies int       `json:"total_copies"`
	Available   int       `json:"available"`
	Status      string    `json:"status"`
}

// UserSummary is the caller-facing projection of a user after a ledger
// operation. Credentials never appear here; they are a separate
// aggregate entirely.
type UserSummary struct {
	ID            uuid.UUID                 `json:"id"`
	FullName      string                    `json:"full_name"`
	Username      string                    `json:"username"`
	ActiveBorrows membership.BorrowMap      `json:"active_borrows"`
	ReturnHistory []membership.ReturnRecord `json:"return_history"`
}

// Receipt is the terminal outcome of a successful Borrow or Return.
type Receipt struct {
	User UserSummary `json:"user"`
	Book BookSummary `json:"book"`
}
