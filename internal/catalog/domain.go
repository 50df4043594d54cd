// internal/catalog/domain.go
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	// Copy counts per title are capped; a branch library does not shelve
	// more than ten copies of anything.
	MaxCopies = 10

	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
)

// BorrowerSet is the set of members currently holding a copy of a book.
// It serializes as a sorted JSON array so persisted and wire forms are
// deterministic.
type BorrowerSet map[uuid.UUID]struct{}

func (s BorrowerSet) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the borrower identifiers sorted by their string form.
func (s BorrowerSet) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (s BorrowerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *BorrowerSet) UnmarshalJSON(data []byte) error {
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(BorrowerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*s = set
	return nil
}

// Book represents a catalogued title. Availability is derived from the
// copy count and the active borrower set, never stored independently.
type Book struct {
	ID          uuid.UUID   `json:"id"`
	ISBN        string      `json:"isbn,omitempty"`
	Title       string      `json:"title"`
	Authors     []string    `json:"authors"`
	Publisher   string      `json:"publisher,omitempty"`
	PublishYear int         `json:"publish_year,omitempty"`
	Categories  []string    `json:"categories,omitempty"`
	Description string      `json:"description,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	TotalCopies int         `json:"total_copies"`
	Borrowers   BorrowerSet `json:"borrowers"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Available reports how many copies can still be lent out.
func (b *Book) Available() int {
	return b.TotalCopies - len(b.Borrowers)
}

// Status derives the catalogue status from availability.
func (b *Book) Status() string {
	if b.Available() > 0 {
		return StatusAvailable
	}
	return StatusUnavailable
}

func (b *Book) HasBorrower(id uuid.UUID) bool {
	return b.Borrowers.Contains(id)
}

// AddBorrower records an active borrower. The caller is responsible for
// the availability check; this only maintains the set.
func (b *Book) AddBorrower(id uuid.UUID) {
	if b.Borrowers == nil {
		b.Borrowers = make(BorrowerSet, 1)
	}
	b.Borrowers[id] = struct{}{}
}

func (b *Book) RemoveBorrower(id uuid.UUID) {
	delete(b.Borrowers, id)
}

// Clone returns a deep copy so callers can mutate freely without
// aliasing store-held state.
func (b *Book) Clone() *Book {
	dup := *b
	dup.Authors = append([]string(nil), b.Authors...)
	dup.Categories = append([]string(nil), b.Categories...)
	dup.Borrowers = make(BorrowerSet, len(b.Borrowers))
	for id := range b.Borrowers {
		dup.Borrowers[id] = struct{}{}
	}
	return &dup
}

// Validate enforces field-level constraints on the aggregate.
func (b *Book) Validate() error {
	if b.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if len(b.Authors) == 0 {
		return fmt.Errorf("%w: authors cannot be empty", ErrInvalid)
	}
	for _, a := range b.Authors {
		if a == "" {
			return fmt.Errorf("%w: author names cannot be blank", ErrInvalid)
		}
	}
	if b.TotalCopies < 0 || b.TotalCopies > MaxCopies {
		return fmt.Errorf("%w: total copies must be between 0 and %d", ErrInvalid, MaxCopies)
	}
	if b.TotalCopies < len(b.Borrowers) {
		return fmt.Errorf("%w: total copies cannot drop below the %d active borrowers", ErrInvalid, len(b.Borrowers))
	}
	return nil
}
