package httpx

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/repository"
	"github.com/splax/teamsync/internal/service/auth"
	"github.com/splax/teamsync/internal/service/team"
	"github.com/splax/teamsync/internal/ws"
	"github.com/splax/teamsync/pkg/config"
	jwtpkg "github.com/splax/teamsync/pkg/jwt"
)

const testSecret = "test-secret"

type testEnv struct {
	router  *Router
	store   *storeStub
	hub     *ws.Hub
	limiter *rateLimiterStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newStoreStub()
	limiter := newRateLimiterStub()
	reg := prometheus.NewRegistry()
	hub := ws.NewHub(logger, ws.WithRegisterer(reg))
	t.Cleanup(hub.Close)

	cfg := config.APIConfig{
		JWTSecret:       testSecret,
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	}
	authSvc := auth.New(store, logger, cfg)
	teamSvc := team.New(store, store, ws.NewBroadcaster(hub, logger), logger)
	router := NewRouter(logger, authSvc, teamSvc, hub, limiter, nil, Options{
		SendBuffer:   16,
		PingInterval: time.Second,
		SSEHeartbeat: 50 * time.Millisecond,
		Registerer:   reg,
		Gatherer:     reg,
	})
	return &testEnv{router: router, store: store, hub: hub, limiter: limiter}
}

// user seeds an account and returns a valid access token for it.
func (e *testEnv) user(t *testing.T, id, name string) string {
	t.Helper()
	e.store.mu.Lock()
	e.store.users[id] = domain.User{ID: id, Name: name, Email: name + "@example.com", CreatedAt: time.Now().UTC()}
	e.store.mu.Unlock()
	token, err := jwtpkg.GenerateToken(id, jwtpkg.KindAccess, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

// storeStub keeps users, teams and memberships in memory.
type storeStub struct {
	mu      sync.Mutex
	users   map[string]domain.User
	teams   map[string]domain.Team
	members map[string]domain.TeamMember
	seq     int
}

func newStoreStub() *storeStub {
	return &storeStub{
		users:   make(map[string]domain.User),
		teams:   make(map[string]domain.Team),
		members: make(map[string]domain.TeamMember),
	}
}

func (s *storeStub) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *storeStub) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (s *storeStub) CreateTeam(_ context.Context, t *domain.Team, owner *domain.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = *t
	s.putMemberLocked(*owner)
	return nil
}

func (s *storeStub) putMemberLocked(m domain.TeamMember) {
	s.seq++
	m.CreatedAt = m.CreatedAt.Add(time.Duration(s.seq))
	m.User = nil
	s.members[m.ID] = m
}

func (s *storeStub) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *storeStub) ListTeamsByUser(_ context.Context, userID string) ([]domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Team
	for _, m := range s.members {
		if m.UserID == userID {
			out = append(out, s.teams[m.TeamID])
		}
	}
	return out, nil
}

func (s *storeStub) UpdateTeam(_ context.Context, teamID string, update domain.TeamUpdate) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Name != nil {
		t.Name = *update.Name
	}
	if update.Description != nil {
		t.Description = update.Description
	}
	s.teams[teamID] = t
	return &t, nil
}

func (s *storeStub) DeleteTeam(_ context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.teams, teamID)
	for id, m := range s.members {
		if m.TeamID == teamID {
			delete(s.members, id)
		}
	}
	return nil
}

func (s *storeStub) AddMember(_ context.Context, member *domain.TeamMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.TeamID == member.TeamID && m.UserID == member.UserID {
			return repository.ErrConflict
		}
	}
	s.putMemberLocked(*member)
	return nil
}

func (s *storeStub) withUserLocked(m domain.TeamMember) *domain.TeamMember {
	u := s.users[m.UserID].Public()
	m.User = &u
	return &m
}

func (s *storeStub) GetMember(_ context.Context, teamID, memberID string) (*domain.TeamMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.TeamID != teamID {
		return nil, repository.ErrNotFound
	}
	return s.withUserLocked(m), nil
}

func (s *storeStub) GetMemberByUser(_ context.Context, teamID, userID string) (*domain.TeamMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.TeamID == teamID && m.UserID == userID {
			return s.withUserLocked(m), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *storeStub) ListMembers(_ context.Context, teamID string) ([]domain.TeamMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TeamMember
	for _, m := range s.members {
		if m.TeamID == teamID {
			out = append(out, *s.withUserLocked(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *storeStub) ListMemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	members, err := s.ListMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *storeStub) CountOwners(_ context.Context, teamID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownersLocked(teamID), nil
}

func (s *storeStub) ownersLocked(teamID string) int {
	n := 0
	for _, m := range s.members {
		if m.TeamID == teamID && m.Role == domain.RoleOwner {
			n++
		}
	}
	return n
}

func (s *storeStub) UpdateMemberRole(_ context.Context, teamID, memberID string, role domain.Role) (*domain.TeamMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.TeamID != teamID {
		return nil, repository.ErrNotFound
	}
	if m.Role == domain.RoleOwner && role != domain.RoleOwner && s.ownersLocked(teamID) <= 1 {
		return nil, repository.ErrLastOwner
	}
	m.Role = role
	s.members[memberID] = m
	return &m, nil
}

func (s *storeStub) RemoveMember(_ context.Context, teamID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok || m.TeamID != teamID {
		return repository.ErrNotFound
	}
	if m.Role == domain.RoleOwner && s.ownersLocked(teamID) <= 1 {
		return repository.ErrLastOwner
	}
	delete(s.members, memberID)
	return nil
}
