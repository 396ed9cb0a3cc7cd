// Package teamsync keeps live team-list and team-detail views for one user.
//
// A view loads its state over the REST API, applies mutations optimistically
// through an optimistic.Store and folds in the events pushed on the realtime
// socket. Sync fans socket events out to every registered view and reloads
// them after each reconnect, since events sent while offline are not replayed.
package teamsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/splax/teamsync/pkg/api/client"
	"github.com/splax/teamsync/pkg/protocol"
	"github.com/splax/teamsync/pkg/realtime"
)

// API is the subset of the REST client the views call.
type API interface {
	ListTeams(ctx context.Context, token string) ([]protocol.Team, error)
	CreateTeam(ctx context.Context, token string, input protocol.CreateTeamRequest) (protocol.Team, error)
	GetTeam(ctx context.Context, token, teamID string) (protocol.Team, error)
	UpdateTeam(ctx context.Context, token, teamID string, updates protocol.TeamUpdates) (protocol.Team, error)
	DeleteTeam(ctx context.Context, token, teamID string) error
	ListMembers(ctx context.Context, token, teamID string) ([]protocol.Member, error)
	AddMember(ctx context.Context, token, teamID string, input protocol.AddMemberRequest) (protocol.Member, error)
	ChangeRole(ctx context.Context, token, teamID, memberID, role string) (protocol.Member, error)
	RemoveMember(ctx context.Context, token, teamID, memberID string) error
}

var _ API = (*client.Client)(nil)

// Session identifies the signed-in user.
type Session struct {
	API    API
	Token  string
	UserID string
	Logger *slog.Logger
}

func (s Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// View is a piece of client state kept in sync over the socket.
type View interface {
	// Load replaces the view with the server's current state.
	Load(ctx context.Context) error
	// Handle folds one socket event into the view. Events for other teams are ignored.
	Handle(ctx context.Context, env protocol.Envelope)
	// Join subscribes rt to the rooms the view listens on.
	Join(rt *realtime.Client) error
}

// Sync routes socket events to views.
type Sync struct {
	log *slog.Logger

	mu    sync.Mutex
	views []View
}

// NewSync builds a Sync over views.
func NewSync(logger *slog.Logger, views ...View) *Sync {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sync{log: logger, views: views}
}

// Add registers another view. It only receives events; join its rooms on the
// realtime client yourself when already connected.
func (s *Sync) Add(v View) {
	s.mu.Lock()
	s.views = append(s.views, v)
	s.mu.Unlock()
}

func (s *Sync) snapshot() []View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]View(nil), s.views...)
}

// Dispatch hands env to every view.
func (s *Sync) Dispatch(ctx context.Context, env protocol.Envelope) {
	if env.Event == protocol.EventError {
		if payload, err := realtime.DecodeData[protocol.ErrorPayload](env); err == nil {
			s.log.Warn("realtime intent rejected", "message", payload.Message)
		}
		return
	}
	for _, v := range s.snapshot() {
		v.Handle(ctx, env)
	}
}

// Refresh reloads every view and returns the joined errors.
func (s *Sync) Refresh(ctx context.Context) error {
	var errs []error
	for _, v := range s.snapshot() {
		if err := v.Load(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect builds a realtime client wired to the views. Incoming events are
// dispatched and every (re)connect triggers Refresh. The returned client is
// not running yet; call Run on it.
func (s *Sync) Connect(ctx context.Context, opts realtime.Options) (*realtime.Client, error) {
	onEvent, onConnect := opts.OnEvent, opts.OnConnect
	opts.OnEvent = func(env protocol.Envelope) {
		s.Dispatch(ctx, env)
		if onEvent != nil {
			onEvent(env)
		}
	}
	opts.OnConnect = func() {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("refresh after connect failed", "error", err)
		}
		if onConnect != nil {
			onConnect()
		}
	}
	rt := realtime.New(opts)
	for _, v := range s.snapshot() {
		if err := v.Join(rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// lostAccess reports whether err means the user can no longer see the team.
func lostAccess(err error) bool {
	switch client.StatusOf(err) {
	case http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
