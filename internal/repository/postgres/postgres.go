package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.TeamRepository = (*Repository)(nil)
)

// mapError translates driver errors into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt)
	return mapError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// CreateTeam creates a team record and its owner membership in one transaction.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team, owner *domain.TeamMember) error {
	if team == nil || owner == nil {
		return fmt.Errorf("team and owner membership required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const teamInsert = `INSERT INTO teams (id, name, description, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, teamInsert, team.ID, team.Name, team.Description, team.OwnerID, team.CreatedAt, team.UpdatedAt); err != nil {
		return mapError(err)
	}
	const memberInsert = `INSERT INTO team_members (id, team_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, memberInsert, owner.ID, owner.TeamID, owner.UserID, string(owner.Role), owner.CreatedAt); err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

const teamColumns = `t.id, t.name, t.description, t.owner_id, t.created_at, t.updated_at`

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var team domain.Team
	if err := row.Scan(&team.ID, &team.Name, &team.Description, &team.OwnerID, &team.CreatedAt, &team.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &team, nil
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams t WHERE t.id = $1`
	return scanTeam(r.pool.QueryRow(ctx, query, teamID))
}

// ListTeamsByUser returns teams the user belongs to.
func (r *Repository) ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error) {
	query := `SELECT ` + teamColumns + `
		FROM teams t
		INNER JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = $1
		ORDER BY t.created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	return teams, rows.Err()
}

// UpdateTeam applies the non-nil fields of update.
func (r *Repository) UpdateTeam(ctx context.Context, teamID string, update domain.TeamUpdate) (*domain.Team, error) {
	const query = `UPDATE teams t
		SET name = COALESCE($2, t.name),
			description = COALESCE($3, t.description),
			updated_at = NOW()
		WHERE t.id = $1
		RETURNING t.id, t.name, t.description, t.owner_id, t.created_at, t.updated_at`
	return scanTeam(r.pool.QueryRow(ctx, query, teamID, update.Name, update.Description))
}

// DeleteTeam removes a team. Memberships go with it through ON DELETE CASCADE.
func (r *Repository) DeleteTeam(ctx context.Context, teamID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddMember inserts a membership. A second membership for the same user is a conflict.
func (r *Repository) AddMember(ctx context.Context, member *domain.TeamMember) error {
	const query = `INSERT INTO team_members (id, team_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, member.ID, member.TeamID, member.UserID, string(member.Role), member.CreatedAt)
	return mapError(err)
}

const memberColumns = `tm.id, tm.team_id, tm.user_id, tm.role, tm.created_at, u.id, u.name, u.email`

func scanMember(row pgx.Row) (*domain.TeamMember, error) {
	var (
		m    domain.TeamMember
		role string
		user domain.MemberUser
	)
	if err := row.Scan(&m.ID, &m.TeamID, &m.UserID, &role, &m.CreatedAt, &user.ID, &user.Name, &user.Email); err != nil {
		return nil, mapError(err)
	}
	m.Role = domain.Role(role)
	m.User = &user
	return &m, nil
}

// GetMember returns a membership by its identifier within a team.
func (r *Repository) GetMember(ctx context.Context, teamID, memberID string) (*domain.TeamMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1 AND tm.id = $2`
	return scanMember(r.pool.QueryRow(ctx, query, teamID, memberID))
}

// GetMemberByUser returns the user's membership in a team.
func (r *Repository) GetMemberByUser(ctx context.Context, teamID, userID string) (*domain.TeamMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1 AND tm.user_id = $2`
	return scanMember(r.pool.QueryRow(ctx, query, teamID, userID))
}

// ListMembers returns memberships of a team, oldest first.
func (r *Repository) ListMembers(ctx context.Context, teamID string) ([]domain.TeamMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM team_members tm
		INNER JOIN users u ON u.id = tm.user_id
		WHERE tm.team_id = $1
		ORDER BY tm.created_at, tm.id`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.TeamMember, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ListMemberUserIDs returns the user IDs holding a membership in the team.
func (r *Repository) ListMemberUserIDs(ctx context.Context, teamID string) ([]string, error) {
	const query = `SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOwners counts OWNER memberships of a team.
func (r *Repository) CountOwners(ctx context.Context, teamID string) (int, error) {
	const query = `SELECT COUNT(1) FROM team_members WHERE team_id = $1 AND role = $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, teamID, string(domain.RoleOwner)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateMemberRole changes a membership's role. Demoting the last OWNER fails
// with repository.ErrLastOwner.
func (r *Repository) UpdateMemberRole(ctx context.Context, teamID, memberID string, role domain.Role) (*domain.TeamMember, error) {
	var updated *domain.TeamMember
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMember(ctx, tx, teamID, memberID)
		if err != nil {
			return err
		}
		if current.Role == domain.RoleOwner && role != domain.RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, teamID); err != nil {
				return err
			}
		}
		const query = `UPDATE team_members SET role = $3 WHERE team_id = $1 AND id = $2`
		if _, err := tx.Exec(ctx, query, teamID, memberID, string(role)); err != nil {
			return mapError(err)
		}
		current.Role = role
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveMember deletes a membership. Removing the last OWNER fails with
// repository.ErrLastOwner.
func (r *Repository) RemoveMember(ctx context.Context, teamID, memberID string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		current, err := lockMember(ctx, tx, teamID, memberID)
		if err != nil {
			return err
		}
		if current.Role == domain.RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, teamID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1 AND id = $2`, teamID, memberID); err != nil {
			return mapError(err)
		}
		return nil
	})
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockMember(ctx context.Context, tx pgx.Tx, teamID, memberID string) (*domain.TeamMember, error) {
	const query = `SELECT id, team_id, user_id, role, created_at
		FROM team_members WHERE team_id = $1 AND id = $2 FOR UPDATE`
	var (
		m    domain.TeamMember
		role string
	)
	if err := tx.QueryRow(ctx, query, teamID, memberID).Scan(&m.ID, &m.TeamID, &m.UserID, &role, &m.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	m.Role = domain.Role(role)
	return &m, nil
}

// ensureAnotherOwner locks every OWNER row of the team so concurrent demotions
// recount against the same set.
func ensureAnotherOwner(ctx context.Context, tx pgx.Tx, teamID string) error {
	const query = `SELECT id FROM team_members WHERE team_id = $1 AND role = $2 FOR UPDATE`
	rows, err := tx.Query(ctx, query, teamID, string(domain.RoleOwner))
	if err != nil {
		return err
	}
	owners := 0
	for rows.Next() {
		owners++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if owners <= 1 {
		return repository.ErrLastOwner
	}
	return nil
}
