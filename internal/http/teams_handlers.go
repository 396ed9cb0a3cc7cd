package httpx

import (
	"net/http"
	"strings"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/service/team"
	"github.com/splax/teamsync/internal/ws"
	"github.com/splax/teamsync/pkg/protocol"
)

func (r *Router) actorID(w http.ResponseWriter, req *http.Request) (string, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return "", false
	}
	return info.UserID, true
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	actorID, ok := r.actorID(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		teams, err := r.team.List(req.Context(), actorID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		out := make([]protocol.Team, 0, len(teams))
		for _, t := range teams {
			out = append(out, ws.WireTeam(t))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload protocol.CreateTeamRequest
		if !decodeJSON(w, req, &payload) {
			return
		}
		created, err := r.team.Create(req.Context(), actorID, payload.Name, payload.Description)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, ws.WireTeam(*created))
	default:
		r.methodNotAllowed(w)
	}
}

// handleTeamSubroutes dispatches /teams/{teamId}[/members[/{memberId}]].
func (r *Router) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(req.URL.Path, "/teams/"), "/"), "/")
	teamID := parts[0]
	if teamID == "" {
		r.notFound(w)
		return
	}
	actorID, ok := r.actorID(w, req)
	if !ok {
		return
	}
	switch {
	case len(parts) == 1:
		r.handleTeam(w, req, actorID, teamID)
	case len(parts) == 2 && parts[1] == "members":
		r.handleMembers(w, req, actorID, teamID)
	case len(parts) == 3 && parts[1] == "members" && parts[2] != "":
		r.handleMember(w, req, actorID, teamID, parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleTeam(w http.ResponseWriter, req *http.Request, actorID, teamID string) {
	switch req.Method {
	case http.MethodGet:
		t, err := r.team.Get(req.Context(), actorID, teamID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, ws.WireTeam(*t))
	case http.MethodPatch:
		var payload protocol.TeamUpdates
		if !decodeJSON(w, req, &payload) {
			return
		}
		updated, err := r.team.Update(req.Context(), actorID, teamID, domain.TeamUpdate{
			Name:        payload.Name,
			Description: payload.Description,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, ws.WireTeam(*updated))
	case http.MethodDelete:
		if err := r.team.Delete(req.Context(), actorID, teamID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleMembers(w http.ResponseWriter, req *http.Request, actorID, teamID string) {
	switch req.Method {
	case http.MethodGet:
		members, err := r.team.Members(req.Context(), actorID, teamID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		out := make([]protocol.Member, 0, len(members))
		for _, m := range members {
			out = append(out, ws.WireMember(m))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var payload protocol.AddMemberRequest
		if !decodeJSON(w, req, &payload) {
			return
		}
		member, err := r.team.AddMember(req.Context(), actorID, teamID, team.AddMemberInput{
			UserID: payload.UserID,
			Email:  payload.Email,
			Role:   domain.Role(strings.ToUpper(strings.TrimSpace(payload.Role))),
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, ws.WireMember(*member))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleMember(w http.ResponseWriter, req *http.Request, actorID, teamID, memberID string) {
	switch req.Method {
	case http.MethodPatch:
		var payload protocol.ChangeRoleRequest
		if !decodeJSON(w, req, &payload) {
			return
		}
		role := domain.Role(strings.ToUpper(strings.TrimSpace(payload.Role)))
		member, err := r.team.ChangeRole(req.Context(), actorID, teamID, memberID, role)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, ws.WireMember(*member))
	case http.MethodDelete:
		if err := r.team.RemoveMember(req.Context(), actorID, teamID, memberID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}
