package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/policy"
	"github.com/splax/teamsync/internal/repository"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 500
)

var (
	// ErrNotFound reports a missing team or membership.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyMember reports an add for a user who already belongs to the team.
	ErrAlreadyMember = errors.New("user is already a member of this team")
)

// EventSink receives one event per committed mutation.
type EventSink interface {
	Broadcast(evt domain.Event)
}

// Service handles team workflows.
type Service struct {
	repo   repository.TeamRepository
	users  repository.UserRepository
	events EventSink
	logger *slog.Logger
	locks  *teamLocks
	now    func() time.Time
}

// New constructs a Service. events may be nil, in which case nothing is broadcast.
func New(repo repository.TeamRepository, users repository.UserRepository, events EventSink, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		repo:   repo,
		users:  users,
		events: events,
		logger: logger,
		locks:  newTeamLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddMemberInput identifies the user to add either by ID or by email.
type AddMemberInput struct {
	UserID string
	Email  string
	Role   domain.Role
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("team name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalid("team name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

func validateDescription(desc *string) (*string, error) {
	if desc == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*desc)
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return nil, invalid("description must be at most %d characters", maxDescriptionLength)
	}
	return &trimmed, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s Service) emit(evt domain.Event) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(evt)
}

// Create registers a team and makes the creator its OWNER.
func (s Service) Create(ctx context.Context, actorID, name string, description *string) (*domain.Team, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	description, err = validateDescription(description)
	if err != nil {
		return nil, err
	}
	now := s.now()
	team := &domain.Team{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := &domain.TeamMember{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		UserID:    actorID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
	}
	if err := s.repo.CreateTeam(ctx, team, owner); err != nil {
		return nil, notFound(err)
	}
	s.logger.Info("team created", "team_id", team.ID, "owner_id", actorID)
	s.emit(domain.NewTeamCreated(*team, []string{actorID}))
	return team, nil
}

// List returns the teams the user belongs to.
func (s Service) List(ctx context.Context, userID string) ([]domain.Team, error) {
	return s.repo.ListTeamsByUser(ctx, userID)
}

// Get returns a team the actor belongs to.
func (s Service) Get(ctx context.Context, actorID, teamID string) (*domain.Team, error) {
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, notFound(err)
	}
	if _, err := s.actor(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return team, nil
}

// Members lists a team's memberships for one of its members.
func (s Service) Members(ctx context.Context, actorID, teamID string) ([]domain.TeamMember, error) {
	if _, err := s.repo.GetTeamByID(ctx, teamID); err != nil {
		return nil, notFound(err)
	}
	if _, err := s.actor(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, teamID)
}

// CanViewTeam reports whether the user holds a membership in the team.
func (s Service) CanViewTeam(ctx context.Context, userID, teamID string) (bool, error) {
	_, err := s.repo.GetMemberByUser(ctx, teamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// actor loads the acting user's membership. A missing membership yields a
// not-a-member denial.
func (s Service) actor(ctx context.Context, teamID, actorID string) (*domain.TeamMember, error) {
	m, err := s.repo.GetMemberByUser(ctx, teamID, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &policy.DeniedError{Reason: policy.ReasonNotAMember}
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// actorFor is actor with the denial tagged by action.
func (s Service) actorFor(ctx context.Context, action policy.Action, teamID, actorID string) (*domain.TeamMember, error) {
	m, err := s.actor(ctx, teamID, actorID)
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		denied.Action = action
	}
	return m, err
}

// Update changes a team's name or description.
func (s Service) Update(ctx context.Context, actorID, teamID string, update domain.TeamUpdate) (*domain.Team, error) {
	if update.Empty() {
		return nil, invalid("nothing to update")
	}
	if update.Name != nil {
		name, err := validateName(*update.Name)
		if err != nil {
			return nil, err
		}
		update.Name = &name
	}
	desc, err := validateDescription(update.Description)
	if err != nil {
		return nil, err
	}
	update.Description = desc

	unlock := s.locks.lock(teamID)
	defer unlock()

	if _, err := s.repo.GetTeamByID(ctx, teamID); err != nil {
		return nil, notFound(err)
	}
	actor, err := s.actorFor(ctx, policy.ActionUpdateTeam, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if err := policy.UpdateTeam(actor.Role).Err(policy.ActionUpdateTeam); err != nil {
		return nil, err
	}
	// Membership cannot change while the team lock is held.
	recipients, err := s.repo.ListMemberUserIDs(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team recipients: %w", err)
	}
	team, err := s.repo.UpdateTeam(ctx, teamID, update)
	if err != nil {
		return nil, notFound(err)
	}
	s.logger.Info("team updated", "team_id", teamID, "actor_id", actorID)
	s.emit(domain.NewTeamUpdated(teamID, update, recipients))
	return team, nil
}

// Delete removes a team. Only the recorded owner may do so.
func (s Service) Delete(ctx context.Context, actorID, teamID string) error {
	unlock := s.locks.lock(teamID)
	defer unlock()

	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return notFound(err)
	}
	actor, err := s.actorFor(ctx, policy.ActionDeleteTeam, teamID, actorID)
	if err != nil {
		return err
	}
	if err := policy.DeleteTeam(actor.Role, actorID, team.OwnerID).Err(policy.ActionDeleteTeam); err != nil {
		return err
	}
	// Members lose access with the row, so they are collected first.
	recipients, err := s.repo.ListMemberUserIDs(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTeam(ctx, teamID); err != nil {
		return notFound(err)
	}
	s.logger.Info("team deleted", "team_id", teamID, "actor_id", actorID)
	s.emit(domain.NewTeamDeleted(teamID, recipients))
	return nil
}

// AddMember adds a user to the team. Role defaults to MEMBER.
func (s Service) AddMember(ctx context.Context, actorID, teamID string, in AddMemberInput) (*domain.TeamMember, error) {
	role := in.Role
	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return nil, invalid("unknown role %q", in.Role)
	}
	user, err := s.resolveUser(ctx, in)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(teamID)
	defer unlock()

	if _, err := s.repo.GetTeamByID(ctx, teamID); err != nil {
		return nil, notFound(err)
	}
	actor, err := s.actorFor(ctx, policy.ActionAddMember, teamID, actorID)
	if err != nil {
		return nil, err
	}
	decision := policy.Evaluate(policy.Request{
		Action:       policy.ActionAddMember,
		ActorRole:    actor.Role,
		ActorID:      actorID,
		TargetUserID: user.ID,
		NewRole:      role,
	})
	if err := decision.Err(policy.ActionAddMember); err != nil {
		return nil, err
	}
	public := user.Public()
	member := &domain.TeamMember{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		UserID:    user.ID,
		Role:      role,
		CreatedAt: s.now(),
		User:      &public,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyMember
		}
		return nil, notFound(err)
	}
	recipients, err := s.repo.ListMemberUserIDs(ctx, teamID)
	if err != nil {
		s.logger.Error("list team recipients", "team_id", teamID, "error", err)
		recipients = []string{actorID, user.ID}
	}
	s.logger.Info("member added", "team_id", teamID, "member_id", member.ID, "user_id", user.ID, "role", string(role))
	s.emit(domain.NewMemberAdded(*member, recipients))
	return member, nil
}

func (s Service) resolveUser(ctx context.Context, in AddMemberInput) (*domain.User, error) {
	var (
		user *domain.User
		err  error
	)
	switch {
	case in.UserID != "":
		user, err = s.users.GetUserByID(ctx, in.UserID)
	case strings.TrimSpace(in.Email) != "":
		user, err = s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	default:
		return nil, invalid("userId or email is required")
	}
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// ChangeRole sets a member's role.
func (s Service) ChangeRole(ctx context.Context, actorID, teamID, memberID string, newRole domain.Role) (*domain.TeamMember, error) {
	if !newRole.Valid() {
		return nil, invalid("unknown role %q", newRole)
	}

	unlock := s.locks.lock(teamID)
	defer unlock()

	actor, target, owners, err := s.loadPair(ctx, policy.ActionChangeRole, teamID, actorID, memberID)
	if err != nil {
		return nil, err
	}
	decision := policy.Evaluate(policy.Request{
		Action:       policy.ActionChangeRole,
		ActorRole:    actor.Role,
		ActorID:      actorID,
		TargetRole:   target.Role,
		TargetUserID: target.UserID,
		NewRole:      newRole,
		OwnerCount:   owners,
	})
	if err := decision.Err(policy.ActionChangeRole); err != nil {
		return nil, err
	}
	recipients, err := s.repo.ListMemberUserIDs(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team recipients: %w", err)
	}
	updated, err := s.repo.UpdateMemberRole(ctx, teamID, memberID, newRole)
	if err != nil {
		return nil, s.mutationError(policy.ActionChangeRole, err)
	}
	updated.User = target.User
	s.logger.Info("member role updated", "team_id", teamID, "member_id", memberID, "role", string(newRole), "actor_id", actorID)
	s.emit(domain.NewMemberRoleUpdated(teamID, memberID, newRole, recipients))
	return updated, nil
}

// RemoveMember deletes a membership. Members may remove themselves.
func (s Service) RemoveMember(ctx context.Context, actorID, teamID, memberID string) error {
	unlock := s.locks.lock(teamID)
	defer unlock()

	actor, target, owners, err := s.loadPair(ctx, policy.ActionRemoveMember, teamID, actorID, memberID)
	if err != nil {
		return err
	}
	decision := policy.Evaluate(policy.Request{
		Action:       policy.ActionRemoveMember,
		ActorRole:    actor.Role,
		ActorID:      actorID,
		TargetRole:   target.Role,
		TargetUserID: target.UserID,
		OwnerCount:   owners,
	})
	if err := decision.Err(policy.ActionRemoveMember); err != nil {
		return err
	}
	// The removed user must still hear about the removal.
	recipients, err := s.repo.ListMemberUserIDs(ctx, teamID)
	if err != nil {
		return fmt.Errorf("list team recipients: %w", err)
	}
	if err := s.repo.RemoveMember(ctx, teamID, memberID); err != nil {
		return s.mutationError(policy.ActionRemoveMember, err)
	}
	s.logger.Info("member removed", "team_id", teamID, "member_id", memberID, "actor_id", actorID)
	s.emit(domain.NewMemberRemoved(teamID, memberID, recipients))
	return nil
}

// loadPair fetches the actor's membership, the target membership and the
// current owner count.
func (s Service) loadPair(ctx context.Context, action policy.Action, teamID, actorID, memberID string) (*domain.TeamMember, *domain.TeamMember, int, error) {
	if _, err := s.repo.GetTeamByID(ctx, teamID); err != nil {
		return nil, nil, 0, notFound(err)
	}
	actor, err := s.actorFor(ctx, action, teamID, actorID)
	if err != nil {
		return nil, nil, 0, err
	}
	target, err := s.repo.GetMember(ctx, teamID, memberID)
	if err != nil {
		return nil, nil, 0, notFound(err)
	}
	owners, err := s.repo.CountOwners(ctx, teamID)
	if err != nil {
		return nil, nil, 0, err
	}
	return actor, target, owners, nil
}

func (s Service) mutationError(action policy.Action, err error) error {
	if errors.Is(err, repository.ErrLastOwner) {
		return &policy.DeniedError{Action: action, Reason: policy.ReasonLastOwner}
	}
	return notFound(err)
}
