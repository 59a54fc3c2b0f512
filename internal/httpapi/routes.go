// Package httpapi mounts the arena's HTTP surface: the WebSocket endpoint and two
// operational JSON endpoints.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Counters reports the shared live counters.
type Counters interface {
	QueryUsers(ctx context.Context) (int64, error)
	QueryGames(ctx context.Context) (int64, error)
}

// Deps are the collaborators of the router. Ping may be nil.
type Deps struct {
	WS          http.Handler
	Counters    Counters
	Rooms       func() int
	Connections func() int
	Ping        func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", Healthz(d.Ping))
	r.Get("/stats", Stats(d))
	r.Get("/ws", d.WS.ServeHTTP)
	return r
}
