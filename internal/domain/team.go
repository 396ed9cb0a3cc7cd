package domain

import "time"

// Role is a member's standing within a team.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Manager reports whether the role may administer team membership.
func (r Role) Manager() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Team represents a collaborative group owned by a single user.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TeamMember links a user to a team with a role.
type TeamMember struct {
	ID        string      `json:"id"`
	TeamID    string      `json:"teamId"`
	UserID    string      `json:"userId"`
	Role      Role        `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
	User      *MemberUser `json:"user,omitempty"`
}

// MemberUser is the public projection of a user embedded in membership payloads.
type MemberUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// TeamUpdate carries the mutable team fields. Nil fields are left untouched.
type TeamUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u TeamUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil
}
