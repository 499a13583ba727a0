package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/environment"
)

func (s *Server) router(ctx context.Context) http.Handler {
	mux := chi.NewRouter()

	mux.Use(
		middleware.Recoverer,
		middleware.Heartbeat("/check"),
	)

	mux.Get("/deploy/info", deployInfoHandlerFunc(ctx))

	mux.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/domains", s.listDomainsHandler)
		r.Post("/domains", s.addDomainHandler)
		r.Delete("/domains", s.removeDomainHandler)
		r.Get("/domains/verify/{domain}", s.verifyDomainHandler)
	})

	return mux
}

// requireAPIKey guards the domain API with a shared key passed in the
// X-API-Key header or the api_key query parameter.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, req)
			return
		}

		presented := req.Header.Get("X-API-Key")
		if presented == "" {
			presented = req.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.apiKey)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "could not validate credentials"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func deployInfoHandlerFunc(ctx context.Context) http.HandlerFunc {
	info := map[string]string{
		"service":     environment.ServiceName,
		"environment": environment.EnvFromCtx(ctx).String(),
		"version":     environment.VersionFromCtx(ctx),
		"build_time":  environment.BuildTimeFromCtx(ctx),
	}

	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, info)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload) //nolint:errcheck,gosec
}
