package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/splax/teamsync/pkg/protocol"
)

var (
	errForeignTeamList = errors.New("cannot join another user's team list")
	errTeamUnavailable = errors.New("team not found")
)

// TeamAccess reports whether a user may watch a team's detail room.
type TeamAccess interface {
	CanViewTeam(ctx context.Context, userID, teamID string) (bool, error)
}

// Session runs the room protocol for one authenticated connection.
type Session struct {
	hub    *Hub
	conn   Subscriber
	userID string
	access TeamAccess
	log    *slog.Logger
	now    func() time.Time
}

// NewSession binds a connection to the hub on behalf of userID.
func NewSession(hub *Hub, conn Subscriber, userID string, access TeamAccess, logger *slog.Logger) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		userID: userID,
		access: access,
		log:    logger.With("conn_id", conn.ID(), "user_id", userID),
		now:    time.Now,
	}
}

// Open attaches the connection and sends the connected confirmation.
func (s *Session) Open() error {
	if err := s.hub.Attach(s.conn); err != nil {
		return err
	}
	s.emit(protocol.EventConnected, protocol.Connected{
		SocketID:  s.conn.ID(),
		Message:   "connected to realtime server",
		Timestamp: s.now().UTC().Format(protocol.TimestampLayout),
	})
	return nil
}

// Close drops every room the connection joined.
func (s *Session) Close() {
	s.hub.Detach(s.conn.ID())
}

// Handle processes one inbound frame. Protocol errors are reported to the
// client as error events and never end the session.
func (s *Session) Handle(ctx context.Context, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		s.fail(err)
		return
	}
	switch env.Event {
	case protocol.JoinTeamList, protocol.LeaveTeamList:
		userID, err := protocol.IntentID(env.Data, "userId")
		if err != nil {
			s.fail(err)
			return
		}
		if env.Event == protocol.LeaveTeamList {
			s.hub.Unsubscribe(s.conn.ID(), protocol.TeamListRoom(userID))
			return
		}
		if err := s.JoinTeamList(userID); err != nil {
			s.fail(err)
		}
	case protocol.JoinTeamDetail, protocol.LeaveTeamDetail:
		teamID, err := protocol.IntentID(env.Data, "teamId")
		if err != nil {
			s.fail(err)
			return
		}
		if env.Event == protocol.LeaveTeamDetail {
			s.hub.Unsubscribe(s.conn.ID(), protocol.TeamDetailRoom(teamID))
			return
		}
		if err := s.JoinTeamDetail(ctx, teamID); err != nil {
			s.fail(err)
		}
	default:
		s.fail(errors.New("unknown event " + env.Event))
	}
}

// JoinTeamList subscribes to the user's own team-list room.
func (s *Session) JoinTeamList(userID string) error {
	if userID != s.userID {
		return errForeignTeamList
	}
	s.hub.Subscribe(s.conn.ID(), protocol.TeamListRoom(userID))
	return nil
}

// JoinTeamDetail subscribes to a team's detail room if the user belongs to the team.
// Membership is checked only here; a later removal does not evict the
// subscription, and the client drops the room once it sees its own removal.
func (s *Session) JoinTeamDetail(ctx context.Context, teamID string) error {
	if s.access != nil {
		ok, err := s.access.CanViewTeam(ctx, s.userID, teamID)
		if err != nil {
			s.log.Error("team access check failed", "team_id", teamID, "error", err)
			return errTeamUnavailable
		}
		if !ok {
			return errTeamUnavailable
		}
	}
	s.hub.Subscribe(s.conn.ID(), protocol.TeamDetailRoom(teamID))
	return nil
}

func (s *Session) fail(err error) {
	s.log.Debug("realtime intent rejected", "error", err)
	s.emit(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
}

func (s *Session) emit(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.log.Error("encode realtime frame", "event", event, "error", err)
		return
	}
	if err := s.conn.Send(frame); err != nil {
		s.log.Warn("realtime send failed", "event", event, "error", err)
	}
}
