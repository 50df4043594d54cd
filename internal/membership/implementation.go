// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const updateRetries = 3

// service implements the Service interface.
type service struct {
	store       Store
	rateLimiter *rate.Limiter
	tracer      trace.Tracer
}

// NewService creates a new membership service instance.
func NewService(store Store) Service {
	return &service{
		store:       store,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 registrations per minute
		tracer:      otel.Tracer("librarium/membership"),
	}
}

// Register creates a new member with hashed credentials.
func (s *service) Register(ctx context.Context, params RegisterParams) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return nil, ErrRateLimited
	}

	user := &User{
		FullName:      params.FullName,
		Username:      params.Username,
		Email:         NormalizeEmail(params.Email),
		ImageURL:      params.ImageURL,
		ActiveBorrows: BorrowMap{},
		ReturnHistory: []ReturnRecord{},
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if params.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalid)
	}

	passwordHash, salt, err := hashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	cred := &Credential{PasswordHash: passwordHash, Salt: salt}

	if err := s.store.Create(ctx, user, cred); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	return user, nil
}

// Authenticate verifies a member's credentials and returns the member
// if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.authenticate")
	defer span.End()

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	cred, err := s.store.GetCredential(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if !ok {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// GetUser retrieves a member by ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.Get(ctx, id)
}

// GetUserByUsername retrieves a member by username.
func (s *service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.FindByUsername(ctx, username)
}

// UpdateProfile edits identity fields, guarded owner-or-admin. Borrow
// state rides along untouched; a concurrent ledger commit on the same
// user shows up as a version conflict and the edit is re-read.
func (s *service) UpdateProfile(ctx context.Context, actingUserID, targetUserID uuid.UUID, changes UpdateProfileParams) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "membership.update_profile",
		trace.WithAttributes(
			attribute.String("user.id", targetUserID.String()),
			attribute.String("actor.id", actingUserID.String()),
		))
	defer span.End()

	if actingUserID != targetUserID {
		actor, err := s.store.Get(ctx, actingUserID)
		if err != nil {
			return nil, fmt.Errorf("load actor: %w", err)
		}
		if !actor.IsAdmin {
			return nil, ErrForbidden
		}
	}

	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		user, err := s.store.Get(ctx, targetUserID)
		if err != nil {
			return nil, err
		}
		if changes.FullName != nil {
			user.FullName = *changes.FullName
		}
		if changes.Username != nil {
			user.Username = *changes.Username
		}
		if changes.Email != nil {
			user.Email = NormalizeEmail(*changes.Email)
		}
		if changes.ImageURL != nil {
			user.ImageURL = *changes.ImageURL
		}
		if err := user.Validate(); err != nil {
			return nil, err
		}

		err = s.store.Update(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update user: %w", err)
		}
		lastErr = err
	}
	span.SetAttributes(attribute.Bool("conflict.detected", true))
	return nil, fmt.Errorf("update user after %d attempts: %w", updateRetries, lastErr)
}
