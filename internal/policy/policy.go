// Package policy decides which team mutations an actor may perform.
//
// Every function is pure: callers load the actor's and target's memberships and
// pass them in, and the package never touches storage.
package policy

import (
	"fmt"

	"github.com/splax/teamsync/internal/domain"
)

// Reason identifies why a mutation was denied.
type Reason string

const (
	ReasonNotAMember          Reason = "not-a-member"
	ReasonInsufficientRole    Reason = "insufficient-role"
	ReasonCannotDemoteOwner   Reason = "cannot-demote-owner"
	ReasonCannotSelfChange    Reason = "cannot-self-change-role"
	ReasonOnlyOwnerMayPromote Reason = "only-owner-may-promote"
	ReasonLastOwner           Reason = "last-owner-protection"
	ReasonNotOwner            Reason = "not-owner"
)

var reasonMessages = map[Reason]string{
	ReasonNotAMember:          "you are not a member of this team",
	ReasonInsufficientRole:    "your role does not allow this action",
	ReasonCannotDemoteOwner:   "team owners cannot be demoted or removed by this action",
	ReasonCannotSelfChange:    "you cannot change your own role",
	ReasonOnlyOwnerMayPromote: "only an owner can grant the owner role",
	ReasonLastOwner:           "a team must keep at least one owner",
	ReasonNotOwner:            "only the team owner can delete the team",
}

// Message returns the human readable text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Action names a guarded mutation.
type Action int

const (
	ActionUpdateTeam Action = iota + 1
	ActionChangeRole
	ActionRemoveMember
	ActionDeleteTeam
	ActionAddMember
)

func (a Action) String() string {
	switch a {
	case ActionUpdateTeam:
		return "update_team"
	case ActionChangeRole:
		return "change_role"
	case ActionRemoveMember:
		return "remove_member"
	case ActionDeleteTeam:
		return "delete_team"
	case ActionAddMember:
		return "add_member"
	}
	return "unknown"
}

// Decision is the outcome of an evaluation. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err converts a denial into a *DeniedError and an allow into nil.
func (d Decision) Err(action Action) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Action: action, Reason: d.Reason}
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason) Decision { return Decision{Reason: r} }

// DeniedError reports a rejected mutation.
type DeniedError struct {
	Action Action
	Reason Reason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason.Message())
}

// Request describes the mutation being evaluated.
type Request struct {
	Action Action
	// ActorRole is the acting user's role in the team, empty when not a member.
	ActorRole domain.Role
	ActorID   string
	// TargetRole and TargetUserID describe the membership being changed or removed.
	TargetRole   domain.Role
	TargetUserID string
	// NewRole is the requested role for ActionChangeRole and ActionAddMember.
	NewRole domain.Role
	// OwnerCount is the number of OWNER memberships currently in the team.
	OwnerCount int
	// TeamOwnerID is the team's recorded owner, used by ActionDeleteTeam.
	TeamOwnerID string
}

func (r Request) self() bool {
	return r.ActorID != "" && r.ActorID == r.TargetUserID
}

// Evaluate applies the rules in precedence order; the first match wins.
func Evaluate(req Request) Decision {
	if req.ActorRole == "" {
		return deny(ReasonNotAMember)
	}
	switch req.Action {
	case ActionUpdateTeam:
		if !req.ActorRole.Manager() {
			return deny(ReasonInsufficientRole)
		}
		return allow()
	case ActionChangeRole:
		return changeRole(req)
	case ActionRemoveMember:
		return removeMember(req)
	case ActionDeleteTeam:
		if req.ActorID == "" || req.ActorID != req.TeamOwnerID {
			return deny(ReasonNotOwner)
		}
		return allow()
	case ActionAddMember:
		if !req.ActorRole.Manager() {
			return deny(ReasonInsufficientRole)
		}
		if req.NewRole == domain.RoleOwner && req.ActorRole != domain.RoleOwner {
			return deny(ReasonOnlyOwnerMayPromote)
		}
		return allow()
	}
	return deny(ReasonInsufficientRole)
}

func changeRole(req Request) Decision {
	switch {
	case req.TargetRole == domain.RoleOwner:
		return deny(ReasonCannotDemoteOwner)
	case req.self():
		return deny(ReasonCannotSelfChange)
	case req.NewRole == domain.RoleOwner && req.ActorRole != domain.RoleOwner:
		return deny(ReasonOnlyOwnerMayPromote)
	case !req.ActorRole.Manager():
		return deny(ReasonInsufficientRole)
	}
	return allow()
}

func removeMember(req Request) Decision {
	lastOwner := req.TargetRole == domain.RoleOwner && req.OwnerCount <= 1
	switch {
	case req.self():
		// Leaving is always permitted unless it would orphan the team.
		if lastOwner {
			return deny(ReasonLastOwner)
		}
		return allow()
	case !req.ActorRole.Manager():
		return deny(ReasonInsufficientRole)
	case req.TargetRole == domain.RoleOwner && req.ActorRole != domain.RoleOwner:
		return deny(ReasonCannotDemoteOwner)
	case lastOwner:
		return deny(ReasonLastOwner)
	}
	return allow()
}

// UpdateTeam is shorthand for evaluating ActionUpdateTeam.
func UpdateTeam(actorRole domain.Role) Decision {
	return Evaluate(Request{Action: ActionUpdateTeam, ActorRole: actorRole})
}

// DeleteTeam is shorthand for evaluating ActionDeleteTeam.
func DeleteTeam(actorRole domain.Role, actorID, ownerID string) Decision {
	return Evaluate(Request{Action: ActionDeleteTeam, ActorRole: actorRole, ActorID: actorID, TeamOwnerID: ownerID})
}
