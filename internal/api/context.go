package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"election-sim/internal/election"
)

// CtxKey represents a type-safe context key
type CtxKey[T any] struct {
	name string
}

// NewCtxKey creates a new typed context key
func NewCtxKey[T any](name string) CtxKey[T] {
	return CtxKey[T]{name: name}
}

// String implements fmt.Stringer for debugging
func (k CtxKey[T]) String() string {
	return fmt.Sprintf("Key[%T](%s)", *new(T), k.name)
}

// SetCtxKey stores a value in the context with type safety
func SetCtxKey[T any](ctx context.Context, key CtxKey[T], value T) context.Context {
	return context.WithValue(ctx, key, value)
}

// GetCtxKey retrieves a value from the context with type safety
func GetCtxKey[T any](ctx context.Context, key CtxKey[T]) (T, bool) {
	value, ok := ctx.Value(key).(T)
	return value, ok
}

var nodeIDKey = NewCtxKey[election.NodeID]("node-id")

// withNodeID parses the {id} route variable and stores it in the request context.
func withNodeID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := mux.Vars(r)["id"]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid node id %q", raw))
			return
		}

		next.ServeHTTP(w, r.WithContext(SetCtxKey(r.Context(), nodeIDKey, election.NodeID(id))))
	})
}
