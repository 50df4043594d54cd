// internal/lending/handler.go
package lending

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarium/internal/catalog"
	"librarium/internal/httpmw"
	"librarium/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// HandleBorrow lends a copy of {bookID} to the acting user.
func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.service.Borrow)
}

// HandleReturn takes a copy of {bookID} back from the acting user.
func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.service.Return)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, actingUserID, bookID uuid.UUID) (*Receipt, error)) {

	actor, ok := httpmw.Actor(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	bookID, err := uuid.Parse(chi.URLParam(r, "bookID"))
	if err != nil {
		http.Error(w, "invalid book id", http.StatusBadRequest)
		return
	}

	receipt, err := op(r.Context(), actor, bookID)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, membership.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyBorrowed),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrNotBorrowed),
		errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, membership.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
