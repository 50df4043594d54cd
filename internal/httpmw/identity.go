// internal/httpmw/identity.go
package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ActorHeader carries the acting user's id, installed by the
// authentication layer in front of this service. The core trusts it and
// performs no credential checks of its own.
const ActorHeader = "X-Acting-User"

type contextKey struct{}

// Identity lifts the acting-user header into the request context. A
// missing or malformed header is not an error here; handlers that need
// an identity reject the request themselves.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), contextKey{}, id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Actor returns the authenticated acting user, if any.
func Actor(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok
}

// WithActor injects an acting user, for tests and internal calls.
func WithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}
