// internal/membership/store.go
package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("a user with this email already exists")
	ErrDuplicateUsername = errors.New("a user with this username already exists")
	ErrVersionConflict   = errors.New("user version conflict")
	ErrUnavailable       = errors.New("membership storage unavailable")
	ErrInvalid           = errors.New("invalid user")

	// ErrForbidden guards profile edits: only the owning user or an
	// admin may change identity fields.
	ErrForbidden = errors.New("not allowed to edit this user")

	ErrBadCredentials = errors.New("invalid credentials")
)

// Store is the persistence contract for User aggregates. Update is a
// compare-and-swap on the aggregate version, exactly like the catalog
// store. Credentials are written once at creation and read only through
// GetCredential; the profile update path cannot touch them.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, user *User, cred *Credential) error
	Update(ctx context.Context, user *User) error
	GetCredential(ctx context.Context, userID uuid.UUID) (*Credential, error)
}
