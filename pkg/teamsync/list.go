package teamsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/splax/teamsync/pkg/optimistic"
	"github.com/splax/teamsync/pkg/protocol"
	"github.com/splax/teamsync/pkg/realtime"
)

// TeamList is the signed-in user's list of teams.
type TeamList struct {
	session Session
	log     *slog.Logger
	teams   *optimistic.Store[protocol.Team]
}

// NewTeamList builds an empty list. onChange, when set, receives every new snapshot.
func NewTeamList(session Session, onChange func([]protocol.Team)) *TeamList {
	l := &TeamList{session: session, log: session.logger()}
	opts := []optimistic.Option[protocol.Team]{
		optimistic.WithMatcher(func(draft, incoming protocol.Team) bool {
			return optimistic.IsTemp(draft.ID) && draft.Name == incoming.Name && incoming.OwnerID == session.UserID
		}),
	}
	if onChange != nil {
		opts = append(opts, optimistic.WithOnChange(onChange))
	}
	l.teams = optimistic.New(func(t protocol.Team) string { return t.ID }, opts...)
	return l
}

// Teams returns the current snapshot.
func (l *TeamList) Teams() []protocol.Team { return l.teams.Items() }

// Team returns one team of the list.
func (l *TeamList) Team(id string) (protocol.Team, bool) { return l.teams.Get(id) }

// State reports the reconciliation state of the list.
func (l *TeamList) State() optimistic.State {
	s, _ := l.teams.State()
	return s
}

func (l *TeamList) Load(ctx context.Context) error {
	teams, err := l.session.API.ListTeams(ctx, l.session.Token)
	if err != nil {
		return fmt.Errorf("load teams: %w", err)
	}
	l.teams.Reset(teams)
	return nil
}

func (l *TeamList) Join(rt *realtime.Client) error {
	return rt.JoinTeamList(l.session.UserID)
}

// Create shows the new team at once and settles it with the server's reply.
func (l *TeamList) Create(ctx context.Context, name string, description *string) (protocol.Team, error) {
	now := time.Now().UTC()
	pending := l.teams.BeginCreate(protocol.Team{
		ID:          optimistic.TempID(),
		Name:        name,
		Description: description,
		OwnerID:     l.session.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	team, err := l.session.API.CreateTeam(ctx, l.session.Token, protocol.CreateTeamRequest{Name: name, Description: description})
	if err != nil {
		return protocol.Team{}, pending.Fail(err)
	}
	pending.Confirm(team)
	return team, nil
}

// Update renames or re-describes a team.
func (l *TeamList) Update(ctx context.Context, teamID string, updates protocol.TeamUpdates) (protocol.Team, error) {
	current, ok := l.teams.Get(teamID)
	if !ok {
		return protocol.Team{}, fmt.Errorf("%w: team %s", optimistic.ErrUnknownEntity, teamID)
	}
	updates.Apply(&current)
	pending, err := l.teams.BeginUpdate(current)
	if err != nil {
		return protocol.Team{}, err
	}
	team, err := l.session.API.UpdateTeam(ctx, l.session.Token, teamID, updates)
	if err != nil {
		return protocol.Team{}, pending.Fail(err)
	}
	pending.Confirm(team)
	return team, nil
}

// Delete hides the team at once and restores it if the server refuses.
func (l *TeamList) Delete(ctx context.Context, teamID string) error {
	pending, err := l.teams.BeginDelete(teamID)
	if err != nil {
		return err
	}
	if err := l.session.API.DeleteTeam(ctx, l.session.Token, teamID); err != nil {
		return pending.Fail(err)
	}
	pending.Confirm(protocol.Team{})
	return nil
}

func (l *TeamList) Handle(ctx context.Context, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventTeamCreated:
		if p, ok := decode[protocol.TeamCreatedPayload](l.log, env); ok {
			l.teams.ApplyUpsert(p.Team)
		}
	case protocol.EventTeamUpdated:
		if p, ok := decode[protocol.TeamUpdatedPayload](l.log, env); ok {
			l.teams.Patch(p.TeamID, func(t protocol.Team) protocol.Team {
				p.Updates.Apply(&t)
				return t
			})
		}
	case protocol.EventTeamDeleted:
		if p, ok := decode[protocol.TeamDeletedPayload](l.log, env); ok {
			l.teams.ApplyRemove(p.TeamID)
		}
	case protocol.EventMemberAdded:
		p, ok := decode[protocol.MemberAddedPayload](l.log, env)
		if !ok || p.Member.UserID != l.session.UserID {
			return
		}
		// A full load also lifts the tombstone of a team we were removed from earlier.
		if _, known := l.teams.Get(p.TeamID); !known {
			if err := l.Load(ctx); err != nil {
				l.log.Warn("team list reload failed", "team_id", p.TeamID, "error", err)
			}
		}
	case protocol.EventMemberRemoved:
		// The payload does not name the user, so ask whether the team is still ours.
		if p, ok := decode[protocol.MemberRemovedPayload](l.log, env); ok {
			if _, known := l.teams.Get(p.TeamID); known {
				l.refreshTeam(ctx, p.TeamID)
			}
		}
	}
}

func (l *TeamList) refreshTeam(ctx context.Context, teamID string) {
	team, err := l.session.API.GetTeam(ctx, l.session.Token, teamID)
	switch {
	case err == nil:
		l.teams.ApplyUpsert(team)
	case lostAccess(err):
		l.teams.ApplyRemove(teamID)
	default:
		l.log.Warn("team refresh failed", "team_id", teamID, "error", err)
	}
}

func decode[T any](log *slog.Logger, env protocol.Envelope) (T, bool) {
	p, err := realtime.DecodeData[T](env)
	if err != nil {
		log.Warn("realtime event dropped", "event", env.Event, "error", err)
		return p, false
	}
	return p, true
}
