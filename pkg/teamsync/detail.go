package teamsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/teamsync/pkg/optimistic"
	"github.com/splax/teamsync/pkg/protocol"
	"github.com/splax/teamsync/pkg/realtime"
)

// GoneReason says why a TeamDetail stopped tracking its team.
type GoneReason string

const (
	GoneDeleted GoneReason = "deleted"
	GoneRemoved GoneReason = "removed"
)

// ErrGone is returned by mutations on a detail view whose team was deleted
// or that the user was removed from.
var ErrGone = errors.New("teamsync: team no longer available")

// TeamDetail is one team with its members.
type TeamDetail struct {
	session Session
	teamID  string
	log     *slog.Logger
	onGone  func(GoneReason)

	team    *optimistic.Store[protocol.Team]
	members *optimistic.Store[protocol.Member]

	mu   sync.Mutex
	gone GoneReason
}

// DetailOptions customises a TeamDetail. All callbacks are optional.
type DetailOptions struct {
	OnTeam    func(protocol.Team)
	OnMembers func([]protocol.Member)
	OnGone    func(GoneReason)
}

// NewTeamDetail builds an empty view of teamID.
func NewTeamDetail(session Session, teamID string, opts DetailOptions) *TeamDetail {
	d := &TeamDetail{session: session, teamID: teamID, log: session.logger().With("team_id", teamID), onGone: opts.OnGone}

	teamOpts := []optimistic.Option[protocol.Team]{}
	if opts.OnTeam != nil {
		teamOpts = append(teamOpts, optimistic.WithOnChange(func(items []protocol.Team) {
			if len(items) == 1 {
				opts.OnTeam(items[0])
			}
		}))
	}
	d.team = optimistic.New(func(t protocol.Team) string { return t.ID }, teamOpts...)

	memberOpts := []optimistic.Option[protocol.Member]{optimistic.WithMatcher(sameInvitee)}
	if opts.OnMembers != nil {
		memberOpts = append(memberOpts, optimistic.WithOnChange(opts.OnMembers))
	}
	d.members = optimistic.New(func(m protocol.Member) string { return m.ID }, memberOpts...)
	return d
}

// sameInvitee matches a pending add with the member:added broadcast for it.
func sameInvitee(draft, incoming protocol.Member) bool {
	if !optimistic.IsTemp(draft.ID) || draft.TeamID != incoming.TeamID {
		return false
	}
	if draft.UserID != "" {
		return draft.UserID == incoming.UserID
	}
	return draft.User != nil && incoming.User != nil && strings.EqualFold(draft.User.Email, incoming.User.Email)
}

// TeamID returns the team the view tracks.
func (d *TeamDetail) TeamID() string { return d.teamID }

// Team returns the team, false before the first Load or after it is gone.
func (d *TeamDetail) Team() (protocol.Team, bool) { return d.team.Get(d.teamID) }

// Members returns the current member snapshot.
func (d *TeamDetail) Members() []protocol.Member { return d.members.Items() }

// Member returns one member by membership ID.
func (d *TeamDetail) Member(id string) (protocol.Member, bool) { return d.members.Get(id) }

// Gone reports whether the team went away and why.
func (d *TeamDetail) Gone() (GoneReason, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone, d.gone != ""
}

func (d *TeamDetail) markGone(reason GoneReason) {
	d.mu.Lock()
	first := d.gone == ""
	if first {
		d.gone = reason
	}
	d.mu.Unlock()
	if !first {
		return
	}
	d.log.Info("team detail closed", "reason", string(reason))
	d.team.ApplyRemove(d.teamID)
	d.members.Reset(nil)
	if d.onGone != nil {
		d.onGone(reason)
	}
}

func (d *TeamDetail) checkLive() error {
	if _, gone := d.Gone(); gone {
		return ErrGone
	}
	return nil
}

func (d *TeamDetail) Load(ctx context.Context) error {
	if _, gone := d.Gone(); gone {
		return nil
	}
	team, err := d.session.API.GetTeam(ctx, d.session.Token, d.teamID)
	if err != nil {
		if lostAccess(err) {
			d.markGone(GoneRemoved)
			return nil
		}
		return fmt.Errorf("load team %s: %w", d.teamID, err)
	}
	members, err := d.session.API.ListMembers(ctx, d.session.Token, d.teamID)
	if err != nil {
		return fmt.Errorf("load members of %s: %w", d.teamID, err)
	}
	d.team.Reset([]protocol.Team{team})
	d.members.Reset(members)
	return nil
}

func (d *TeamDetail) Join(rt *realtime.Client) error {
	return rt.JoinTeamDetail(d.teamID)
}

// myMember returns the membership of the signed-in user.
func (d *TeamDetail) myMember() (protocol.Member, bool) {
	for _, m := range d.members.Items() {
		if m.UserID == d.session.UserID {
			return m, true
		}
	}
	return protocol.Member{}, false
}

func (d *TeamDetail) Handle(_ context.Context, env protocol.Envelope) {
	if _, gone := d.Gone(); gone {
		return
	}
	switch env.Event {
	case protocol.EventTeamUpdated:
		if p, ok := decode[protocol.TeamUpdatedPayload](d.log, env); ok && p.TeamID == d.teamID {
			d.team.Patch(d.teamID, func(t protocol.Team) protocol.Team {
				p.Updates.Apply(&t)
				return t
			})
		}
	case protocol.EventTeamDeleted:
		if p, ok := decode[protocol.TeamDeletedPayload](d.log, env); ok && p.TeamID == d.teamID {
			d.markGone(GoneDeleted)
		}
	case protocol.EventMemberAdded:
		if p, ok := decode[protocol.MemberAddedPayload](d.log, env); ok && p.TeamID == d.teamID {
			d.members.ApplyUpsert(p.Member)
		}
	case protocol.EventMemberRemoved:
		p, ok := decode[protocol.MemberRemovedPayload](d.log, env)
		if !ok || p.TeamID != d.teamID {
			return
		}
		me, isMember := d.myMember()
		d.members.ApplyRemove(p.MemberID)
		if isMember && me.ID == p.MemberID {
			d.markGone(GoneRemoved)
		}
	case protocol.EventMemberRoleUpdated:
		if p, ok := decode[protocol.MemberRoleUpdatedPayload](d.log, env); ok && p.TeamID == d.teamID {
			d.members.Patch(p.MemberID, func(m protocol.Member) protocol.Member {
				m.Role = p.NewRole
				return m
			})
		}
	}
}

// Update changes the team's name or description.
func (d *TeamDetail) Update(ctx context.Context, updates protocol.TeamUpdates) (protocol.Team, error) {
	if err := d.checkLive(); err != nil {
		return protocol.Team{}, err
	}
	current, ok := d.Team()
	if !ok {
		return protocol.Team{}, fmt.Errorf("%w: team %s", optimistic.ErrUnknownEntity, d.teamID)
	}
	updates.Apply(&current)
	pending, err := d.team.BeginUpdate(current)
	if err != nil {
		return protocol.Team{}, err
	}
	team, err := d.session.API.UpdateTeam(ctx, d.session.Token, d.teamID, updates)
	if err != nil {
		return protocol.Team{}, pending.Fail(err)
	}
	pending.Confirm(team)
	return team, nil
}

// Delete removes the team. The view is gone afterwards.
func (d *TeamDetail) Delete(ctx context.Context) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	pending, err := d.team.BeginDelete(d.teamID)
	if err != nil {
		return err
	}
	if err := d.session.API.DeleteTeam(ctx, d.session.Token, d.teamID); err != nil {
		return pending.Fail(err)
	}
	pending.Confirm(protocol.Team{})
	d.markGone(GoneDeleted)
	return nil
}

// AddMember shows the invitee at once. Exactly one of userID and email should be set.
func (d *TeamDetail) AddMember(ctx context.Context, userID, email, role string) (protocol.Member, error) {
	if err := d.checkLive(); err != nil {
		return protocol.Member{}, err
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		role = protocol.RoleMember
	}
	draft := protocol.Member{
		ID:        optimistic.TempID(),
		TeamID:    d.teamID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if email != "" {
		draft.User = &protocol.User{Email: email}
	}
	pending := d.members.BeginCreate(draft)
	member, err := d.session.API.AddMember(ctx, d.session.Token, d.teamID, protocol.AddMemberRequest{UserID: userID, Email: email, Role: role})
	if err != nil {
		return protocol.Member{}, pending.Fail(err)
	}
	pending.Confirm(member)
	return member, nil
}

// ChangeRole sets a member's role.
func (d *TeamDetail) ChangeRole(ctx context.Context, memberID, role string) (protocol.Member, error) {
	if err := d.checkLive(); err != nil {
		return protocol.Member{}, err
	}
	current, ok := d.members.Get(memberID)
	if !ok {
		return protocol.Member{}, fmt.Errorf("%w: member %s", optimistic.ErrUnknownEntity, memberID)
	}
	current.Role = strings.ToUpper(strings.TrimSpace(role))
	pending, err := d.members.BeginUpdate(current)
	if err != nil {
		return protocol.Member{}, err
	}
	member, err := d.session.API.ChangeRole(ctx, d.session.Token, d.teamID, memberID, current.Role)
	if err != nil {
		return protocol.Member{}, pending.Fail(err)
	}
	pending.Confirm(member)
	return member, nil
}

// RemoveMember removes a member. Removing yourself leaves the team and the
// view is gone afterwards.
func (d *TeamDetail) RemoveMember(ctx context.Context, memberID string) error {
	if err := d.checkLive(); err != nil {
		return err
	}
	me, isMember := d.myMember()
	pending, err := d.members.BeginDelete(memberID)
	if err != nil {
		return err
	}
	if err := d.session.API.RemoveMember(ctx, d.session.Token, d.teamID, memberID); err != nil {
		return pending.Fail(err)
	}
	pending.Confirm(protocol.Member{})
	if isMember && me.ID == memberID {
		d.markGone(GoneRemoved)
	}
	return nil
}
