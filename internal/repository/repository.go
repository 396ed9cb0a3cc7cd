package repository

import (
	"context"

	"github.com/splax/teamsync/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// TeamRepository manages teams and memberships.
type TeamRepository interface {
	// CreateTeam stores team together with the owner's OWNER membership.
	CreateTeam(ctx context.Context, team *domain.Team, owner *domain.TeamMember) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error)
	UpdateTeam(ctx context.Context, teamID string, update domain.TeamUpdate) (*domain.Team, error)
	// DeleteTeam removes the team and, by cascade, its memberships.
	DeleteTeam(ctx context.Context, teamID string) error

	AddMember(ctx context.Context, member *domain.TeamMember) error
	GetMember(ctx context.Context, teamID, memberID string) (*domain.TeamMember, error)
	GetMemberByUser(ctx context.Context, teamID, userID string) (*domain.TeamMember, error)
	ListMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error)
	ListMemberUserIDs(ctx context.Context, teamID string) ([]string, error)
	CountOwners(ctx context.Context, teamID string) (int, error)
	// UpdateMemberRole and RemoveMember fail with ErrLastOwner instead of
	// leaving the team without an OWNER.
	UpdateMemberRole(ctx context.Context, teamID, memberID string, role domain.Role) (*domain.TeamMember, error)
	RemoveMember(ctx context.Context, teamID, memberID string) error
}
