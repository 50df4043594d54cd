// internal/lending/service.go
package lending

import (
	"context"

	"github.com/google/uuid"
)

// Service is the lending ledger: the only component allowed to mutate
// borrow state on either the book or the user aggregate. Each operation
// is one logical transaction across both stores.
type Service interface {
	Borrow(ctx context.Context, actingUserID, bookID uuid.UUID) (*Receipt, error)
	Return(ctx context.Context, actingUserID, bookID uuid.UUID) (*Receipt, error)
}
