package httpx

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/splax/teamsync/internal/ws"
)

// handleRealtimeWS upgrades to a websocket and runs the room protocol until
// either side hangs up.
func (r *Router) handleRealtimeWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for realtime websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already answered the client.
		r.logger.Warn("websocket upgrade failed", "error", err, "user_id", info.UserID)
		return
	}
	client := ws.NewClient(uuid.NewString(), conn, r.logger, ws.ClientOptions{
		SendBuffer:   r.opts.SendBuffer,
		PingInterval: r.opts.PingInterval,
	})
	session := ws.NewSession(r.hub, client, info.UserID, r.team, r.logger)
	go client.WritePump()
	if err := session.Open(); err != nil {
		r.logger.Warn("realtime session rejected", "error", err, "user_id", info.UserID)
		client.Close()
		return
	}
	ctx := req.Context()
	client.ReadPump(func(frame []byte) { session.Handle(ctx, frame) })
	session.Close()
	client.Close()
}

// handleRealtimeStream is the Server-Sent Events fallback. It only receives;
// rooms are chosen up front with ?teamList=1 and ?teamDetail=<teamId>.
func (r *Router) handleRealtimeStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for realtime stream", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	query := req.URL.Query()
	teamList := query.Get("teamList")
	wantList := teamList == "1" || strings.EqualFold(teamList, "true")
	detailID := strings.TrimSpace(query.Get("teamDetail"))
	if detailID != "" {
		allowed, err := r.team.CanViewTeam(req.Context(), info.UserID, detailID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		if !allowed {
			r.notFound(w)
			return
		}
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(uuid.NewString(), w, flusher, r.logger, r.opts.SendBuffer)
	session := ws.NewSession(r.hub, client, info.UserID, r.team, r.logger)
	if err := session.Open(); err != nil {
		r.logger.Warn("realtime stream rejected", "error", err, "user_id", info.UserID)
		return
	}
	defer session.Close()
	if wantList {
		_ = session.JoinTeamList(info.UserID)
	}
	if detailID != "" {
		if err := session.JoinTeamDetail(req.Context(), detailID); err != nil {
			r.logger.Warn("realtime stream detail join failed", "team_id", detailID, "error", err)
		}
	}
	client.Stream(req.Context().Done(), r.opts.SSEHeartbeat)
	client.Close()
}
