// internal/membership/domain.go
package membership

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^\w+([\.-]?\w+)*@\w+([\.-]?\w+)*(\.\w{2,3})+$`)

// BorrowRecord is an active borrow on the user side. The due date here
// is authoritative; the book aggregate carries no due-date state.
type BorrowRecord struct {
	BorrowedAt time.Time `json:"borrowed_at"`
	DueAt      time.Time `json:"due_at"`
}

// ReturnRecord is one completed loan in the user's history. ReturnedAt
// is written exactly once, at the moment of return.
type ReturnRecord struct {
	BookID     uuid.UUID `json:"book_id"`
	DueAt      time.Time `json:"due_at"`
	ReturnedAt time.Time `json:"returned_at"`
}

// BorrowMap keys active borrows by book id, which makes the
// one-active-borrow-per-book rule structural: a second concurrent
// borrow of the same book cannot even be represented.
type BorrowMap map[uuid.UUID]BorrowRecord

// User represents a registered library member. Credentials live in a
// separate aggregate and never travel with the user.
type User struct {
	ID            uuid.UUID      `json:"id"`
	FullName      string         `json:"full_name"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	IsAdmin       bool           `json:"is_admin"`
	ImageURL      string         `json:"image_url,omitempty"`
	ActiveBorrows BorrowMap      `json:"active_borrows"`
	ReturnHistory []ReturnRecord `json:"return_history"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Credential holds a member's login secret, separate from the profile.
type Credential struct {
	UserID       uuid.UUID `json:"user_id"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

func (u *User) HasActiveBorrow(bookID uuid.UUID) bool {
	_, ok := u.ActiveBorrows[bookID]
	return ok
}

// AddBorrow records a new active borrow. Callers must have checked for
// an existing entry first; an overwrite would lose the original dates.
func (u *User) AddBorrow(bookID uuid.UUID, borrowedAt, dueAt time.Time) {
	if u.ActiveBorrows == nil {
		u.ActiveBorrows = make(BorrowMap, 1)
	}
	u.ActiveBorrows[bookID] = BorrowRecord{BorrowedAt: borrowedAt, DueAt: dueAt}
}

// CompleteBorrow removes the active entry for bookID and appends the
// return-history record carrying its due date. It reports whether an
// active entry existed.
func (u *User) CompleteBorrow(bookID uuid.UUID, returnedAt time.Time) (ReturnRecord, bool) {
	rec, ok := u.ActiveBorrows[bookID]
	if !ok {
		return ReturnRecord{}, false
	}
	delete(u.ActiveBorrows, bookID)
	ret := ReturnRecord{BookID: bookID, DueAt: rec.DueAt, ReturnedAt: returnedAt}
	u.ReturnHistory = append(u.ReturnHistory, ret)
	return ret, true
}

// DropBorrow removes an active entry without touching the history. Used
// by the ledger's compensation path.
func (u *User) DropBorrow(bookID uuid.UUID) {
	delete(u.ActiveBorrows, bookID)
}

// RestoreBorrow undoes a CompleteBorrow: the active entry comes back
// and the trailing history record for the book is dropped. Used by the
// ledger's compensation path.
func (u *User) RestoreBorrow(bookID uuid.UUID, rec BorrowRecord) {
	if u.ActiveBorrows == nil {
		u.ActiveBorrows = make(BorrowMap, 1)
	}
	u.ActiveBorrows[bookID] = rec
	for i := len(u.ReturnHistory) - 1; i >= 0; i-- {
		if u.ReturnHistory[i].BookID == bookID {
			u.ReturnHistory = append(u.ReturnHistory[:i], u.ReturnHistory[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy so callers can mutate freely without
// aliasing store-held state.
func (u *User) Clone() *User {
	dup := *u
	dup.ActiveBorrows = make(BorrowMap, len(u.ActiveBorrows))
	for id, rec := range u.ActiveBorrows {
		dup.ActiveBorrows[id] = rec
	}
	dup.ReturnHistory = append([]ReturnRecord(nil), u.ReturnHistory...)
	return &dup
}

// Validate enforces field-level constraints on the aggregate.
func (u *User) Validate() error {
	if u.FullName == "" {
		return fmt.Errorf("%w: full name is required", ErrInvalid)
	}
	if u.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if !emailPattern.MatchString(u.Email) {
		return fmt.Errorf("%w: malformed email address", ErrInvalid)
	}
	return nil
}

// NormalizeEmail lowercases an address the way the registration path
// stores it, so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
