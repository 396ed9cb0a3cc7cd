package teamsync

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/splax/teamsync/pkg/api/client"
	"github.com/splax/teamsync/pkg/protocol"
)

// fakeAPI is an in-memory server. hooks run before a method answers, which
// lets tests deliver a broadcast ahead of the HTTP response.
type fakeAPI struct {
	mu      sync.Mutex
	teams   map[string]protocol.Team
	members map[string][]protocol.Member
	fail    map[string]error
	hooks   map[string]func()
	// nextID, when set, is the ID of the next created team.
	nextID string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		teams:   make(map[string]protocol.Team),
		members: make(map[string][]protocol.Member),
		fail:    make(map[string]error),
		hooks:   make(map[string]func()),
	}
}

func (f *fakeAPI) enter(method string) error {
	f.mu.Lock()
	hook := f.hooks[method]
	err := f.fail[method]
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeAPI) seedTeam(id, name, owner string) protocol.Team {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	team := protocol.Team{ID: id, Name: name, OwnerID: owner, CreatedAt: now, UpdatedAt: now}
	f.teams[id] = team
	f.members[id] = append(f.members[id], protocol.Member{ID: "m-" + owner, TeamID: id, UserID: owner, Role: protocol.RoleOwner, CreatedAt: now})
	return team
}

func (f *fakeAPI) seedMember(teamID, memberID, userID, role string) protocol.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := protocol.Member{ID: memberID, TeamID: teamID, UserID: userID, Role: role, CreatedAt: time.Now().UTC()}
	f.members[teamID] = append(f.members[teamID], m)
	return m
}

func (f *fakeAPI) isMember(teamID, userID string) bool {
	for _, m := range f.members[teamID] {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (f *fakeAPI) ListTeams(_ context.Context, token string) ([]protocol.Team, error) {
	if err := f.enter("ListTeams"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Team
	for id, team := range f.teams {
		if f.isMember(id, token) {
			out = append(out, team)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateTeam(_ context.Context, token string, input protocol.CreateTeamRequest) (protocol.Team, error) {
	if err := f.enter("CreateTeam"); err != nil {
		return protocol.Team{}, err
	}
	f.mu.Lock()
	id := f.nextID
	f.nextID = ""
	f.mu.Unlock()
	if id == "" {
		id = "team-" + uuid.NewString()
	}
	return f.seedTeam(id, input.Name, token), nil
}

func (f *fakeAPI) GetTeam(_ context.Context, token, teamID string) (protocol.Team, error) {
	if err := f.enter("GetTeam"); err != nil {
		return protocol.Team{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return protocol.Team{}, client.APIError{Status: http.StatusNotFound, Message: "not found"}
	}
	if !f.isMember(teamID, token) {
		return protocol.Team{}, client.APIError{Status: http.StatusForbidden, Message: "not a member", Code: "not-a-member"}
	}
	return team, nil
}

func (f *fakeAPI) UpdateTeam(_ context.Context, _, teamID string, updates protocol.TeamUpdates) (protocol.Team, error) {
	if err := f.enter("UpdateTeam"); err != nil {
		return protocol.Team{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	team := f.teams[teamID]
	updates.Apply(&team)
	f.teams[teamID] = team
	return team, nil
}

func (f *fakeAPI) DeleteTeam(_ context.Context, _, teamID string) error {
	if err := f.enter("DeleteTeam"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.teams, teamID)
	delete(f.members, teamID)
	return nil
}

func (f *fakeAPI) ListMembers(_ context.Context, _, teamID string) ([]protocol.Member, error) {
	if err := f.enter("ListMembers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Member(nil), f.members[teamID]...), nil
}

func (f *fakeAPI) AddMember(_ context.Context, _, teamID string, input protocol.AddMemberRequest) (protocol.Member, error) {
	if err := f.enter("AddMember"); err != nil {
		return protocol.Member{}, err
	}
	return f.seedMember(teamID, "m-"+input.UserID, input.UserID, input.Role), nil
}

func (f *fakeAPI) ChangeRole(_ context.Context, _, teamID, memberID, role string) (protocol.Member, error) {
	if err := f.enter("ChangeRole"); err != nil {
		return protocol.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.members[teamID] {
		if m.ID == memberID {
			f.members[teamID][i].Role = role
			return f.members[teamID][i], nil
		}
	}
	return protocol.Member{}, client.APIError{Status: http.StatusNotFound, Message: "not found"}
}

func (f *fakeAPI) RemoveMember(_ context.Context, _, teamID, memberID string) error {
	if err := f.enter("RemoveMember"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.members[teamID][:0]
	for _, m := range f.members[teamID] {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	f.members[teamID] = kept
	return nil
}

// The fake uses the token as the user ID.
func session(api API, userID string) Session {
	return Session{API: api, Token: userID, UserID: userID}
}

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	env, err := protocol.Decode(frame)
	require.NoError(t, err)
	return env
}

func stamp() string { return time.Now().UTC().Format(protocol.TimestampLayout) }
