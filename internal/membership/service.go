// internal/membership/service.go
package membership

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRateLimited is returned by Register when the registration throttle
// is exhausted.
var ErrRateLimited = errors.New("too many registration attempts")

// RegisterParams carries the registration fields.
type RegisterParams struct {
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	ImageURL string `json:"image_url"`
}

// UpdateProfileParams is a partial identity edit; nil fields are left
// unchanged. There is deliberately no password field here, credential
// rotation is a separate flow.
type UpdateProfileParams struct {
	FullName *string `json:"full_name"`
	Username *string `json:"username"`
	Email    *string `json:"email"`
	ImageURL *string `json:"image_url"`
}

// Service defines the interface for the membership service.
type Service interface {
	Register(ctx context.Context, params RegisterParams) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// GetUserByUsername looks a member up by username,
	// case-insensitively.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// UpdateProfile edits identity fields on behalf of actingUserID,
	// which must be the target user or an admin.
	UpdateProfile(ctx context.Context, actingUserID, targetUserID uuid.UUID, changes UpdateProfileParams) (*User, error)
}
