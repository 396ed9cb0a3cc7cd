package team

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/policy"
	"github.com/splax/teamsync/internal/repository"
)

type memRepo struct {
	mu      sync.Mutex
	users   map[string]domain.User
	teams   map[string]domain.Team
	members map[string]domain.TeamMember
	seq     int
	failAdd error
	// failRecipients makes ListMemberUserIDs fail.
	failRecipients error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:   make(map[string]domain.User),
		teams:   make(map[string]domain.Team),
		members: make(map[string]domain.TeamMember),
	}
}

func (m *memRepo) addUser(id, name string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := domain.User{ID: id, Name: name, Email: name + "@example.com"}
	m.users[id] = u
	return u
}

func (m *memRepo) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *memRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *memRepo) CreateTeam(_ context.Context, team *domain.Team, owner *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[team.ID] = *team
	m.seq++
	owner.CreatedAt = owner.CreatedAt.Add(time.Duration(m.seq))
	m.members[owner.ID] = *owner
	return nil
}

func (m *memRepo) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (m *memRepo) ListTeamsByUser(_ context.Context, userID string) ([]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Team
	for _, mem := range m.members {
		if mem.UserID == userID {
			out = append(out, m.teams[mem.TeamID])
		}
	}
	return out, nil
}

func (m *memRepo) UpdateTeam(_ context.Context, teamID string, update domain.TeamUpdate) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Name != nil {
		t.Name = *update.Name
	}
	if update.Description != nil {
		t.Description = update.Description
	}
	m.teams[teamID] = t
	return &t, nil
}

func (m *memRepo) DeleteTeam(_ context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.teams, teamID)
	for id, mem := range m.members {
		if mem.TeamID == teamID {
			delete(m.members, id)
		}
	}
	return nil
}

func (m *memRepo) AddMember(_ context.Context, member *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return m.failAdd
	}
	for _, mem := range m.members {
		if mem.TeamID == member.TeamID && mem.UserID == member.UserID {
			return repository.ErrConflict
		}
	}
	m.seq++
	stored := *member
	stored.CreatedAt = stored.CreatedAt.Add(time.Duration(m.seq))
	stored.User = nil
	m.members[member.ID] = stored
	return nil
}

func (m *memRepo) withUser(mem domain.TeamMember) *domain.TeamMember {
	u := m.users[mem.UserID].Public()
	mem.User = &u
	return &mem
}

func (m *memRepo) GetMember(_ context.Context, teamID, memberID string) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok || mem.TeamID != teamID {
		return nil, repository.ErrNotFound
	}
	return m.withUser(mem), nil
}

func (m *memRepo) GetMemberByUser(_ context.Context, teamID, userID string) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.TeamID == teamID && mem.UserID == userID {
			return m.withUser(mem), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) ListMembers(_ context.Context, teamID string) ([]domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TeamMember
	for _, mem := range m.members {
		if mem.TeamID == teamID {
			out = append(out, *m.withUser(mem))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) ListMemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	m.mu.Lock()
	failure := m.failRecipients
	m.mu.Unlock()
	if failure != nil {
		return nil, failure
	}
	members, err := m.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, mem := range members {
		ids = append(ids, mem.UserID)
	}
	return ids, nil
}

func (m *memRepo) CountOwners(_ context.Context, teamID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownersLocked(teamID), nil
}

func (m *memRepo) ownersLocked(teamID string) int {
	n := 0
	for _, mem := range m.members {
		if mem.TeamID == teamID && mem.Role == domain.RoleOwner {
			n++
		}
	}
	return n
}

func (m *memRepo) UpdateMemberRole(_ context.Context, teamID, memberID string, role domain.Role) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok || mem.TeamID != teamID {
		return nil, repository.ErrNotFound
	}
	if mem.Role == domain.RoleOwner && role != domain.RoleOwner && m.ownersLocked(teamID) <= 1 {
		return nil, repository.ErrLastOwner
	}
	mem.Role = role
	m.members[memberID] = mem
	return &mem, nil
}

func (m *memRepo) RemoveMember(_ context.Context, teamID, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok || mem.TeamID != teamID {
		return repository.ErrNotFound
	}
	if mem.Role == domain.RoleOwner && m.ownersLocked(teamID) <= 1 {
		return repository.ErrLastOwner
	}
	delete(m.members, memberID)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Broadcast(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo   *memRepo
	events *eventRecorder
	svc    Service
}

func newFixture() *fixture {
	repo := newMemRepo()
	events := &eventRecorder{}
	return &fixture{repo: repo, events: events, svc: New(repo, repo, events, newLogger())}
}

// team creates a team owned by owner and adds the given users with their roles.
func (f *fixture) team(t *testing.T, owner string, others map[string]domain.Role) (*domain.Team, map[string]string) {
	t.Helper()
	ctx := context.Background()
	f.repo.addUser(owner, owner)
	team, err := f.svc.Create(ctx, owner, "Core", nil)
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	memberIDs := map[string]string{}
	ownerMember, err := f.repo.GetMemberByUser(ctx, team.ID, owner)
	if err != nil {
		t.Fatalf("owner membership: %v", err)
	}
	memberIDs[owner] = ownerMember.ID
	names := make([]string, 0, len(others))
	for name := range others {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.repo.addUser(name, name)
		m, err := f.svc.AddMember(ctx, owner, team.ID, AddMemberInput{UserID: name, Role: others[name]})
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		memberIDs[name] = m.ID
	}
	f.events.reset()
	return team, memberIDs
}

func expectDenied(t *testing.T, err error, reason policy.Reason) {
	t.Helper()
	var denied *policy.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial %s, got %v", reason, err)
	}
	if denied.Reason != reason {
		t.Fatalf("expected reason %s, got %s", reason, denied.Reason)
	}
}

func TestCreateMakesCreatorOwner(t *testing.T) {
	f := newFixture()
	f.repo.addUser("alice", "alice")
	desc := "  platform  "

	team, err := f.svc.Create(context.Background(), "alice", "  Core ", &desc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if team.Name != "Core" || team.Description == nil || *team.Description != "platform" {
		t.Fatalf("expected trimmed fields, got %+v", team)
	}
	m, err := f.repo.GetMemberByUser(context.Background(), team.ID, "alice")
	if err != nil || m.Role != domain.RoleOwner {
		t.Fatalf("expected owner membership, got %+v err=%v", m, err)
	}
	events := f.events.all()
	if len(events) != 1 || events[0].Kind != domain.TeamCreated {
		t.Fatalf("expected one TeamCreated event, got %+v", events)
	}
	if !slices.Equal(events[0].Recipients, []string{"alice"}) {
		t.Fatalf("unexpected recipients: %v", events[0].Recipients)
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), "alice", "   ", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(f.events.all()) != 0 {
		t.Fatalf("rejected create must not broadcast")
	}
}

func TestUpdateRequiresManager(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", map[string]domain.Role{"bob": domain.RoleMember, "carol": domain.RoleAdmin})
	name := "Renamed"

	_, err := f.svc.Update(context.Background(), "bob", team.ID, domain.TeamUpdate{Name: &name})
	expectDenied(t, err, policy.ReasonInsufficientRole)
	if len(f.events.all()) != 0 {
		t.Fatalf("denied update must not broadcast")
	}

	updated, err := f.svc.Update(context.Background(), "carol", team.ID, domain.TeamUpdate{Name: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("expected rename, got %q", updated.Name)
	}
	events := f.events.all()
	if len(events) != 1 || events[0].Kind != domain.TeamUpdated || *events[0].Updates.Name != "Renamed" {
		t.Fatalf("expected one TeamUpdated event, got %+v", events)
	}
	if len(events[0].Recipients) != 3 {
		t.Fatalf("expected every member as recipient, got %v", events[0].Recipients)
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", nil)
	if _, err := f.svc.Update(context.Background(), "alice", team.ID, domain.TeamUpdate{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty update, got %v", err)
	}
	blank := " "
	if _, err := f.svc.Update(context.Background(), "alice", team.ID, domain.TeamUpdate{Name: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
}

func TestNonMemberIsDenied(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "alice", map[string]domain.Role{"bob": domain.RoleMember})
	name := "x"

	_, err := f.svc.Update(context.Background(), "mallory", team.ID, domain.TeamUpdate{Name: &name})
	expectDenied(t, err, policy.ReasonNotAMember)
	err = f.svc.RemoveMember(context.Background(), "mallory", team.ID, ids["bob"])
	expectDenied(t, err, policy.ReasonNotAMember)
	_, err = f.svc.Get(context.Background(), "mallory", team.ID)
	expectDenied(t, err, policy.ReasonNotAMember)
}

func TestMissingTeamIsNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Get(context.Background(), "alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.Delete(context.Background(), "alice", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.ChangeRole(context.Background(), "alice", "nope", "m1", domain.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOnlyByOwnerAndCapturesRecipients(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", map[string]domain.Role{"bob": domain.RoleAdmin})

	expectDenied(t, f.svc.Delete(context.Background(), "bob", team.ID), policy.ReasonNotOwner)

	if err := f.svc.Delete(context.Background(), "alice", team.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := f.events.all()
	if len(events) != 1 || events[0].Kind != domain.TeamDeleted {
		t.Fatalf("expected TeamDeleted, got %+v", events)
	}
	got := slices.Clone(events[0].Recipients)
	sort.Strings(got)
	if !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("recipients must include former members, got %v", got)
	}
}

func TestAddMember(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", map[string]domain.Role{"carol": domain.RoleAdmin, "bob": domain.RoleMember})
	f.repo.addUser("dave", "dave")
	f.repo.addUser("erin", "erin")
	ctx := context.Background()

	_, err := f.svc.AddMember(ctx, "bob", team.ID, AddMemberInput{UserID: "dave"})
	expectDenied(t, err, policy.ReasonInsufficientRole)
	_, err = f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{UserID: "dave", Role: domain.RoleOwner})
	expectDenied(t, err, policy.ReasonOnlyOwnerMayPromote)

	m, err := f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{Email: " DAVE@example.com "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Role != domain.RoleMember || m.User == nil || m.User.Name != "dave" {
		t.Fatalf("unexpected member: %+v", m)
	}
	if _, err := f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{UserID: "dave"}); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{UserID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, "carol", team.ID, AddMemberInput{UserID: "erin", Role: "CHIEF"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	events := f.events.all()
	if len(events) != 1 || events[0].Kind != domain.MemberAdded {
		t.Fatalf("expected exactly one MemberAdded, got %+v", events)
	}
	if !slices.Contains(events[0].Recipients, "dave") {
		t.Fatalf("new member must receive the event, got %v", events[0].Recipients)
	}
}

func TestAddMemberStorageFailureEmitsNothing(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", nil)
	f.repo.addUser("bob", "bob")
	f.repo.failAdd = errors.New("disk full")

	if _, err := f.svc.AddMember(context.Background(), "alice", team.ID, AddMemberInput{UserID: "bob"}); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.events.all()) != 0 {
		t.Fatalf("failed add must not broadcast")
	}
}

func TestChangeRoleRules(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "alice", map[string]domain.Role{"carol": domain.RoleAdmin, "bob": domain.RoleMember, "dan": domain.RoleMember})
	ctx := context.Background()

	_, err := f.svc.ChangeRole(ctx, "carol", team.ID, ids["alice"], domain.RoleMember)
	expectDenied(t, err, policy.ReasonCannotDemoteOwner)
	_, err = f.svc.ChangeRole(ctx, "carol", team.ID, ids["carol"], domain.RoleMember)
	expectDenied(t, err, policy.ReasonCannotSelfChange)
	_, err = f.svc.ChangeRole(ctx, "carol", team.ID, ids["bob"], domain.RoleOwner)
	expectDenied(t, err, policy.ReasonOnlyOwnerMayPromote)
	_, err = f.svc.ChangeRole(ctx, "bob", team.ID, ids["dan"], domain.RoleAdmin)
	expectDenied(t, err, policy.ReasonInsufficientRole)
	if _, err := f.svc.ChangeRole(ctx, "alice", team.ID, ids["bob"], "ROOT"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.ChangeRole(ctx, "alice", team.ID, "missing", domain.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.events.all()) != 0 {
		t.Fatalf("denied changes must not broadcast")
	}

	m, err := f.svc.ChangeRole(ctx, "carol", team.ID, ids["bob"], domain.RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Role != domain.RoleAdmin {
		t.Fatalf("expected ADMIN, got %s", m.Role)
	}
	events := f.events.all()
	if len(events) != 1 || events[0].Kind != domain.MemberRoleUpdated || events[0].NewRole != domain.RoleAdmin || events[0].MemberID != ids["bob"] {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestRemoveMemberRules(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "alice", map[string]domain.Role{"carol": domain.RoleAdmin, "bob": domain.RoleMember, "dan": domain.RoleMember})
	ctx := context.Background()

	expectDenied(t, f.svc.RemoveMember(ctx, "bob", team.ID, ids["dan"]), policy.ReasonInsufficientRole)
	expectDenied(t, f.svc.RemoveMember(ctx, "carol", team.ID, ids["alice"]), policy.ReasonCannotDemoteOwner)
	expectDenied(t, f.svc.RemoveMember(ctx, "alice", team.ID, ids["alice"]), policy.ReasonLastOwner)

	// Members may leave on their own.
	if err := f.svc.RemoveMember(ctx, "dan", team.ID, ids["dan"]); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, "carol", team.ID, ids["bob"]); err != nil {
		t.Fatalf("admin removal: %v", err)
	}

	events := f.events.all()
	if len(events) != 2 {
		t.Fatalf("expected two MemberRemoved events, got %+v", events)
	}
	if !slices.Contains(events[1].Recipients, "bob") {
		t.Fatalf("removed member must receive the event, got %v", events[1].Recipients)
	}
}

func TestLastOwnerInvariantUnderConcurrency(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "alice", map[string]domain.Role{"bob": domain.RoleOwner})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pairs := [][2]string{{"alice", ids["alice"]}, {"bob", ids["bob"]}}
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, actor, member string) {
			defer wg.Done()
			errs[i] = f.svc.RemoveMember(ctx, actor, team.ID, member)
		}(i, p[0], p[1])
	}
	wg.Wait()

	owners, _ := f.repo.CountOwners(ctx, team.ID)
	if owners != 1 {
		t.Fatalf("expected exactly one owner left, got %d (errs=%v)", owners, errs)
	}
	if len(f.events.all()) != 1 {
		t.Fatalf("expected one removal event, got %d", len(f.events.all()))
	}
	if f.svc.locks.size() != 0 {
		t.Fatalf("team locks must be released")
	}
}

func TestExampleScenario(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "A", map[string]domain.Role{"B": domain.RoleAdmin, "C": domain.RoleMember})
	ctx := context.Background()

	err := f.svc.RemoveMember(ctx, "B", team.ID, ids["A"])
	expectDenied(t, err, policy.ReasonCannotDemoteOwner)
	if len(f.events.all()) != 0 {
		t.Fatalf("denied removal must not broadcast, got %+v", f.events.all())
	}

	if _, err := f.svc.ChangeRole(ctx, "A", team.ID, ids["C"], domain.RoleOwner); err != nil {
		t.Fatalf("promote C: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, "A", team.ID, ids["B"]); err != nil {
		t.Fatalf("remove B: %v", err)
	}

	members, err := f.repo.ListMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	roles := make(map[string]domain.Role, len(members))
	for _, m := range members {
		roles[m.UserID] = m.Role
	}
	if len(roles) != 2 || roles["A"] != domain.RoleOwner || roles["C"] != domain.RoleOwner {
		t.Fatalf("expected {A: OWNER, C: OWNER}, got %v", roles)
	}

	events := f.events.all()
	if len(events) != 2 || events[0].Kind != domain.MemberRoleUpdated || events[1].Kind != domain.MemberRemoved {
		t.Fatalf("expected roleUpdated then removed, got %+v", events)
	}
	for _, evt := range events {
		if !slices.Contains(evt.Recipients, "A") || !slices.Contains(evt.Recipients, "C") {
			t.Fatalf("%s must reach A and C, got %v", evt.Kind, evt.Recipients)
		}
	}
	recipients := slices.Clone(events[1].Recipients)
	sort.Strings(recipients)
	if !slices.Equal(recipients, []string{"A", "B", "C"}) {
		t.Fatalf("removal recipients must be captured before the mutation, got %v", recipients)
	}
}

func TestRecipientLookupFailureAbortsMutation(t *testing.T) {
	f := newFixture()
	team, ids := f.team(t, "A", map[string]domain.Role{"C": domain.RoleMember})
	ctx := context.Background()
	lookup := errors.New("recipients unavailable")
	f.repo.failRecipients = lookup

	if _, err := f.svc.ChangeRole(ctx, "A", team.ID, ids["C"], domain.RoleOwner); !errors.Is(err, lookup) {
		t.Fatalf("expected lookup error from ChangeRole, got %v", err)
	}
	name := "Renamed"
	if _, err := f.svc.Update(ctx, "A", team.ID, domain.TeamUpdate{Name: &name}); !errors.Is(err, lookup) {
		t.Fatalf("expected lookup error from Update, got %v", err)
	}
	if err := f.svc.RemoveMember(ctx, "A", team.ID, ids["C"]); !errors.Is(err, lookup) {
		t.Fatalf("expected lookup error from RemoveMember, got %v", err)
	}
	if len(f.events.all()) != 0 {
		t.Fatalf("nothing committed, nothing broadcast; got %+v", f.events.all())
	}

	member, err := f.repo.GetMember(ctx, team.ID, ids["C"])
	if err != nil || member.Role != domain.RoleMember {
		t.Fatalf("role change must not commit, got %+v err=%v", member, err)
	}
	stored, _ := f.repo.GetTeamByID(ctx, team.ID)
	if stored.Name == name {
		t.Fatalf("team update must not commit")
	}
}

func TestCanViewTeam(t *testing.T) {
	f := newFixture()
	team, _ := f.team(t, "alice", nil)
	ok, err := f.svc.CanViewTeam(context.Background(), "alice", team.ID)
	if err != nil || !ok {
		t.Fatalf("expected member to view team, ok=%v err=%v", ok, err)
	}
	ok, err = f.svc.CanViewTeam(context.Background(), "bob", team.ID)
	if err != nil || ok {
		t.Fatalf("expected outsider to be refused, ok=%v err=%v", ok, err)
	}
}
