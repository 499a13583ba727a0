package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/caddy"
	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/service/domain"
)

func (s *Server) listDomainsHandler(w http.ResponseWriter, req *http.Request) {
	list, err := s.manager.List(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) addDomainHandler(w http.ResponseWriter, req *http.Request) {
	if err := s.manager.Add(
		req.Context(),
		req.URL.Query().Get("domain"),
		req.URL.Query().Get("upstream"),
	); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK")
}

func (s *Server) removeDomainHandler(w http.ResponseWriter, req *http.Request) {
	if err := s.manager.Remove(req.Context(), req.URL.Query().Get("domain")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK")
}

func (s *Server) verifyDomainHandler(w http.ResponseWriter, req *http.Request) {
	result, err := s.manager.Verify(
		req.Context(),
		chi.URLParam(req, "domain"),
		req.URL.Query().Get("upstream"),
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps service errors onto HTTP statuses. Unexpected errors
// are logged and reported as opaque 500s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidDomain):
		status = http.StatusBadRequest
	case errors.Is(err, caddy.ErrRouteConflict):
		status = http.StatusConflict
	case errors.Is(err, caddy.ErrRouteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, caddy.ErrControlPlane):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
