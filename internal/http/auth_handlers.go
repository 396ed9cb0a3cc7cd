package httpx

import (
	"net/http"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/service/auth"
	"github.com/splax/teamsync/pkg/protocol"
)

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload protocol.Credentials
	if !decodeJSON(w, req, &payload) {
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse(user, tokens))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload protocol.Credentials
	if !decodeJSON(w, req, &payload) {
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(user, tokens))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload protocol.RefreshRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	user, tokens, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse(user, tokens))
}

func authResponse(user *domain.User, tokens auth.TokenPair) protocol.AuthResponse {
	return protocol.AuthResponse{
		User: protocol.User{ID: user.ID, Name: user.Name, Email: user.Email},
		Tokens: protocol.Tokens{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresIn:    int64(tokens.ExpiresIn.Seconds()),
		},
	}
}
