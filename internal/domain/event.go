package domain

// EventKind tags a membership domain event.
type EventKind int

const (
	TeamCreated EventKind = iota + 1
	TeamUpdated
	TeamDeleted
	MemberAdded
	MemberRemoved
	MemberRoleUpdated
)

func (k EventKind) String() string {
	switch k {
	case TeamCreated:
		return "team_created"
	case TeamUpdated:
		return "team_updated"
	case TeamDeleted:
		return "team_deleted"
	case MemberAdded:
		return "member_added"
	case MemberRemoved:
		return "member_removed"
	case MemberRoleUpdated:
		return "member_role_updated"
	}
	return "unknown"
}

// Event describes one committed team mutation and the users who must hear about it.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind       EventKind
	TeamID     string
	Team       *Team
	Updates    TeamUpdate
	Member     *TeamMember
	MemberID   string
	NewRole    Role
	Recipients []string
}

// NewTeamCreated builds the event emitted after a team is created.
func NewTeamCreated(team Team, recipients []string) Event {
	return Event{Kind: TeamCreated, TeamID: team.ID, Team: &team, Recipients: recipients}
}

// NewTeamUpdated builds the event emitted after a team's fields change.
func NewTeamUpdated(teamID string, updates TeamUpdate, recipients []string) Event {
	return Event{Kind: TeamUpdated, TeamID: teamID, Updates: updates, Recipients: recipients}
}

// NewTeamDeleted builds the event emitted after a team is deleted.
func NewTeamDeleted(teamID string, recipients []string) Event {
	return Event{Kind: TeamDeleted, TeamID: teamID, Recipients: recipients}
}

// NewMemberAdded builds the event emitted after a membership is created.
func NewMemberAdded(member TeamMember, recipients []string) Event {
	return Event{Kind: MemberAdded, TeamID: member.TeamID, Member: &member, MemberID: member.ID, Recipients: recipients}
}

// NewMemberRemoved builds the event emitted after a membership is deleted.
func NewMemberRemoved(teamID, memberID string, recipients []string) Event {
	return Event{Kind: MemberRemoved, TeamID: teamID, MemberID: memberID, Recipients: recipients}
}

// NewMemberRoleUpdated builds the event emitted after a member's role changes.
func NewMemberRoleUpdated(teamID, memberID string, role Role, recipients []string) Event {
	return Event{Kind: MemberRoleUpdated, TeamID: teamID, MemberID: memberID, NewRole: role, Recipients: recipients}
}
