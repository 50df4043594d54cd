// internal/membership/postgres.go
package membership

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

// PostgresStore persists User aggregates one row per user, with the
// active-borrow map and return history as JSONB columns and a version
// column for compare-and-swap updates. Credentials live in their own
// table, written only at creation.
type PostgresStore struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "membership-store",
			Timeout: 10 * time.Second,
		}),
		tracer: otel.Tracer("librarium/membership"),
	}
}

type userRow struct {
	ID            uuid.UUID `db:"id"`
	FullName      string    `db:"full_name"`
	Username      string    `db:"username"`
	Email         string    `db:"email"`
	IsAdmin       bool      `db:"is_admin"`
	ImageURL      string    `db:"image_url"`
	ActiveBorrows []byte    `db:"active_borrows"`
	ReturnHistory []byte    `db:"return_history"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r *userRow) toDomain() (*User, error) {
	user := &User{
		ID:        r.ID,
		FullName:  r.FullName,
		Username:  r.Username,
		Email:     r.Email,
		IsAdmin:   r.IsAdmin,
		ImageURL:  r.ImageURL,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.ActiveBorrows, &user.ActiveBorrows); err != nil {
		return nil, fmt.Errorf("decode active borrows: %w", err)
	}
	if err := json.Unmarshal(r.ReturnHistory, &user.ReturnHistory); err != nil {
		return nil, fmt.Errorf("decode return history: %w", err)
	}
	return user, nil
}

const userColumns = `id, full_name, username, email, is_admin, image_url,
	active_borrows, return_history, version, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, span := p.tracer.Start(ctx, "membership.get",
		trace.WithAttributes(attribute.String("user.id", id.String())))
	defer span.End()

	return p.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (p *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	ctx, span := p.tracer.Start(ctx, "membership.find_by_email")
	defer span.End()

	return p.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
}

func (p *PostgresStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	ctx, span := p.tracer.Start(ctx, "membership.find_by_username")
	defer span.End()

	return p.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (p *PostgresStore) queryOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		var row userRow
		if err := p.db.GetContext(ctx, &row, query, arg); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, classifyError(err)
		}
		return row.toDomain()
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*User), nil
}

// Create inserts the user and credential rows in one transaction.
func (p *PostgresStore) Create(ctx context.Context, user *User, cred *Credential) error {
	ctx, span := p.tracer.Start(ctx, "membership.create")
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		borrows, history, err := encodeLedgerFields(user)
		if err != nil {
			return nil, err
		}

		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, classifyError(err)
		}
		defer tx.Rollback()

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO users (id, full_name, username, email, is_admin, image_url,
			                   active_borrows, return_history, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
			RETURNING version, created_at, updated_at
		`, user.ID, user.FullName, user.Username, user.Email, user.IsAdmin,
			user.ImageURL, borrows, history,
		).Scan(&user.Version, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, mapUniqueViolation(err)
		}

		if cred != nil {
			cred.UserID = user.ID
			_, err = tx.ExecContext(ctx, `
				INSERT INTO credentials (user_id, password_hash, salt)
				VALUES ($1, $2, $3)
			`, cred.UserID, cred.PasswordHash, cred.Salt)
			if err != nil {
				return nil, classifyError(err)
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, classifyError(err)
		}
		return nil, nil
	})
	return breakerError(err)
}

func (p *PostgresStore) Update(ctx context.Context, user *User) error {
	ctx, span := p.tracer.Start(ctx, "membership.update",
		trace.WithAttributes(
			attribute.String("user.id", user.ID.String()),
			attribute.Int("user.version", user.Version),
		))
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		borrows, history, err := encodeLedgerFields(user)
		if err != nil {
			return nil, err
		}

		res, err := p.db.ExecContext(ctx, `
			UPDATE users
			SET full_name = $1, username = $2, email = $3, is_admin = $4,
			    image_url = $5, active_borrows = $6, return_history = $7,
			    version = version + 1, updated_at = NOW()
			WHERE id = $8 AND version = $9
		`, user.FullName, user.Username, user.Email, user.IsAdmin, user.ImageURL,
			borrows, history, user.ID, user.Version)
		if err != nil {
			return nil, mapUniqueViolation(err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, classifyError(err)
		}
		if affected == 0 {
			var exists bool
			if err := p.db.GetContext(ctx, &exists,
				`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, user.ID); err != nil {
				return nil, classifyError(err)
			}
			if !exists {
				return nil, ErrNotFound
			}
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, ErrVersionConflict
		}
		user.Version++
		return nil, nil
	})
	return breakerError(err)
}

func (p *PostgresStore) GetCredential(ctx context.Context, userID uuid.UUID) (*Credential, error) {
	ctx, span := p.tracer.Start(ctx, "membership.get_credential")
	defer span.End()

	out, err := p.breaker.Execute(func() (interface{}, error) {
		cred := &Credential{}
		err := p.db.QueryRowxContext(ctx, `
			SELECT user_id, password_hash, salt FROM credentials WHERE user_id = $1
		`, userID).Scan(&cred.UserID, &cred.PasswordHash, &cred.Salt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, classifyError(err)
		}
		return cred, nil
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*Credential), nil
}

func encodeLedgerFields(user *User) ([]byte, []byte, error) {
	if user.ActiveBorrows == nil {
		user.ActiveBorrows = BorrowMap{}
	}
	borrows, err := json.Marshal(user.ActiveBorrows)
	if err != nil {
		return nil, nil, fmt.Errorf("encode active borrows: %w", err)
	}
	if user.ReturnHistory == nil {
		user.ReturnHistory = []ReturnRecord{}
	}
	history, err := json.Marshal(user.ReturnHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("encode return history: %w", err)
	}
	return borrows, history, nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if strings.Contains(pqErr.Constraint, "username") {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return classifyError(err)
}

// classifyError maps connectivity failures to ErrUnavailable so callers
// fail fast instead of retrying against a dead backend.
func classifyError(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "08" { // connection exception
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return err
}
