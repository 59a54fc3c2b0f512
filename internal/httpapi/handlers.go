package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("http_write_failed", zap.Error(err))
	}
}

// Healthz answers 200 while the coordination store is reachable.
func Healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := arenadto.Health{Status: "ok", Redis: "ok"}
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				obslog.L().Warn("healthz_redis_down", zap.Error(err))
				h.Status, h.Redis = "degraded", err.Error()
				writeJSON(w, http.StatusServiceUnavailable, h)
				return
			}
		}
		writeJSON(w, http.StatusOK, h)
	}
}

func Stats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s arenadto.Stats
		var err error
		if s.Users, err = d.Counters.QueryUsers(r.Context()); err != nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		if s.Games, err = d.Counters.QueryGames(r.Context()); err != nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		if d.Rooms != nil {
			s.Rooms = d.Rooms()
		}
		if d.Connections != nil {
			s.Connections = d.Connections()
		}
		writeJSON(w, http.StatusOK, s)
	}
}
