// Package admin serves the operator HTTP endpoints of the daemon.
package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/pkg/service"
)

// KeyChecker is implemented by *service.Service.
type KeyChecker interface {
	KeyPresence(ctx context.Context, keyUID string) (service.Presence, error)
	Keys(ctx context.Context) ([]string, error)
}

type keyResponse struct {
	Key      string `json:"key"`
	Presence string `json:"presence"`
	Error    string `json:"error,omitempty"`
}

// NewRouter returns the handler of the admin endpoints. metrics may be nil.
func NewRouter(keys KeyChecker, metrics http.Handler, l log.Logger) http.Handler {
	if l == nil {
		l = log.DefaultLogger()
	}
	l = l.Named("admin")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(l, w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/keys", func(w http.ResponseWriter, req *http.Request) {
		uids, err := keys.Keys(req.Context())
		if err != nil {
			l.Warnw("listing keys failed", "err", err)
			writeJSON(l, w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if uids == nil {
			uids = []string{}
		}
		writeJSON(l, w, http.StatusOK, uids)
	})

	r.Get("/keys/{uid}", func(w http.ResponseWriter, req *http.Request) {
		uid := chi.URLParam(req, "uid")
		presence, err := keys.KeyPresence(req.Context(), uid)
		resp := keyResponse{Key: uid, Presence: presence.String()}
		status := http.StatusOK
		if err != nil {
			l.Warnw("key presence failed", "key", uid, "err", err)
			resp.Error = err.Error()
			status = http.StatusInternalServerError
		}
		writeJSON(l, w, status, resp)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func writeJSON(l log.Logger, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l.Debugw("failed to write response", "err", err)
	}
}
