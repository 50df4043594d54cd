// internal/catalog/postgres.go
package catalog

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

// PostgresStore persists Book aggregates in a single row per book, with
// the borrower set as a JSONB column and an integer version column used
// for compare-and-swap updates. A circuit breaker fronts every call so
// that a down database surfaces as ErrUnavailable immediately instead
// of queueing work behind timeouts.
type PostgresStore struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "catalog-store",
			Timeout: 10 * time.Second,
		}),
		tracer: otel.Tracer("librarium/catalog"),
	}
}

type bookRow struct {
	ID          uuid.UUID      `db:"id"`
	ISBN        string         `db:"isbn"`
	Title       string         `db:"title"`
	Authors     pq.StringArray `db:"authors"`
	Publisher   string         `db:"publisher"`
	PublishYear int            `db:"publish_year"`
	Categories  pq.StringArray `db:"categories"`
	Description string         `db:"description"`
	ImageURL    string         `db:"image_url"`
	TotalCopies int            `db:"total_copies"`
	Borrowers   []byte         `db:"borrowers"`
	Version     int            `db:"version"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *bookRow) toDomain() (*Book, error) {
	book := &Book{
		ID:          r.ID,
		ISBN:        r.ISBN,
		Title:       r.Title,
		Authors:     []string(r.Authors),
		Publisher:   r.Publisher,
		PublishYear: r.PublishYear,
		Categories:  []string(r.Categories),
		Description: r.Description,
		ImageURL:    r.ImageURL,
		TotalCopies: r.TotalCopies,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Borrowers, &book.Borrowers); err != nil {
		return nil, fmt.Errorf("decode borrowers: %w", err)
	}
	return book, nil
}

func (p *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Book, error) {
	ctx, span := p.tracer.Start(ctx, "catalog.get",
		trace.WithAttributes(attribute.String("book.id", id.String())))
	defer span.End()

	out, err := p.breaker.Execute(func() (interface{}, error) {
		var row bookRow
		err := p.db.GetContext(ctx, &row, `
			SELECT id, isbn, title, authors, publisher, publish_year, categories,
			       description, image_url, total_copies, borrowers, version,
			       created_at, updated_at
			FROM books
			WHERE id = $1
		`, id)
		if err != nil {
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
	return out.(*Book), nil
}

func (p *PostgresStore) Create(ctx context.Context, book *Book) error {
	ctx, span := p.tracer.Start(ctx, "catalog.create",
		trace.WithAttributes(attribute.String("book.title", book.Title)))
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		if book.ID == uuid.Nil {
			book.ID = uuid.New()
		}
		borrowers, err := json.Marshal(book.Borrowers)
		if err != nil {
			return nil, fmt.Errorf("encode borrowers: %w", err)
		}

		err = p.db.QueryRowxContext(ctx, `
			INSERT INTO books (id, isbn, title, authors, publisher, publish_year,
			                   categories, description, image_url, total_copies,
			                   borrowers, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
			RETURNING version, created_at, updated_at
		`, book.ID, book.ISBN, book.Title, pq.StringArray(book.Authors),
			book.Publisher, book.PublishYear, pq.StringArray(book.Categories),
			book.Description, book.ImageURL, book.TotalCopies, borrowers,
		).Scan(&book.Version, &book.CreatedAt, &book.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicateTitle
			}
			return nil, classifyError(err)
		}
		return nil, nil
	})
	return breakerError(err)
}

func (p *PostgresStore) Update(ctx context.Context, book *Book) error {
	ctx, span := p.tracer.Start(ctx, "catalog.update",
		trace.WithAttributes(
			attribute.String("book.id", book.ID.String()),
			attribute.Int("book.version", book.Version),
		))
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		borrowers, err := json.Marshal(book.Borrowers)
		if err != nil {
			return nil, fmt.Errorf("encode borrowers: %w", err)
		}

		res, err := p.db.ExecContext(ctx, `
			UPDATE books
			SET isbn = $1, title = $2, authors = $3, publisher = $4,
			    publish_year = $5, categories = $6, description = $7,
			    image_url = $8, total_copies = $9, borrowers = $10,
			    version = version + 1, updated_at = NOW()
			WHERE id = $11 AND version = $12
		`, book.ISBN, book.Title, pq.StringArray(book.Authors), book.Publisher,
			book.PublishYear, pq.StringArray(book.Categories), book.Description,
			book.ImageURL, book.TotalCopies, borrowers, book.ID, book.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrDuplicateTitle
			}
			return nil, classifyError(err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, classifyError(err)
		}
		if affected == 0 {
			var exists bool
			if err := p.db.GetContext(ctx, &exists,
				`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, book.ID); err != nil {
				return nil, classifyError(err)
			}
			if !exists {
				return nil, ErrNotFound
			}
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, ErrVersionConflict
		}
		book.Version++
		return nil, nil
	})
	return breakerError(err)
}

func (p *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := p.tracer.Start(ctx, "catalog.delete",
		trace.WithAttributes(attribute.String("book.id", id.String())))
	defer span.End()

	_, err := p.breaker.Execute(func() (interface{}, error) {
		res, err := p.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			return nil, classifyError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, classifyError(err)
		}
		if affected == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	return breakerError(err)
}

func (p *PostgresStore) List(ctx context.Context, filter Filter) ([]*Book, error) {
	ctx, span := p.tracer.Start(ctx, "catalog.list")
	defer span.End()

	out, err := p.breaker.Execute(func() (interface{}, error) {
		query := strings.Builder{}
		query.WriteString(`
			SELECT id, isbn, title, authors, publisher, publish_year, categories,
			       description, image_url, total_copies, borrowers, version,
			       created_at, updated_at
			FROM books
			WHERE 1 = 1
		`)
		var args []interface{}

		if filter.Title != "" {
			args = append(args, "%"+filter.Title+"%")
			fmt.Fprintf(&query, " AND title ILIKE $%d", len(args))
		}
		if filter.Author != "" {
			args = append(args, "%"+filter.Author+"%")
			fmt.Fprintf(&query, " AND array_to_string(authors, '|') ILIKE $%d", len(args))
		}
		if filter.Status != "" {
			args = append(args, "%"+filter.Status+"%")
			fmt.Fprintf(&query,
				" AND (CASE WHEN total_copies > jsonb_array_length(borrowers) THEN 'available' ELSE 'unavailable' END) ILIKE $%d",
				len(args))
		}
		if len(filter.Categories) > 0 {
			args = append(args, pq.StringArray(filter.Categories))
			fmt.Fprintf(&query, " AND categories @> $%d", len(args))
		}
		query.WriteString(" ORDER BY title ASC")

		var rows []bookRow
		if err := p.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
			return nil, classifyError(err)
		}

		books := make([]*Book, 0, len(rows))
		for i := range rows {
			book, err := rows[i].toDomain()
			if err != nil {
				return nil, err
			}
			books = append(books, book)
		}
		return books, nil
	})
	if err != nil {
		return nil, breakerError(err)
	}
	books := out.([]*Book)
	span.SetAttributes(attribute.Int("books.count", len(books)))
	return books, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
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
