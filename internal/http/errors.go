package httpx

import (
	"errors"
	"net/http"

	"github.com/splax/teamsync/internal/policy"
	"github.com/splax/teamsync/internal/repository"
	"github.com/splax/teamsync/internal/service/auth"
	"github.com/splax/teamsync/internal/service/team"
)

// writeServiceError maps service and policy errors onto HTTP statuses.
// Unrecognised errors are logged and answered with 500 without leaking detail.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var denied *policy.DeniedError
	switch {
	case errors.As(err, &denied):
		writeErrorCode(w, http.StatusForbidden, denied.Reason.Message(), string(denied.Reason))
	case errors.Is(err, team.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		r.notFound(w)
	case errors.Is(err, team.ErrInvalidInput), errors.Is(err, auth.ErrInvalidSignup):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, team.ErrAlreadyMember), errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "method", req.Method, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
