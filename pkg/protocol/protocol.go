// Package protocol defines the realtime wire format exchanged between the
// teamsync server and its clients.
//
// Every frame is a JSON envelope {"event": <name>, "data": <payload>} in both
// directions. Payload timestamps are RFC 3339 strings with nanoseconds in UTC.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client to server intents.
const (
	JoinTeamList    = "join-team-list"
	LeaveTeamList   = "leave-team-list"
	JoinTeamDetail  = "join-team-detail"
	LeaveTeamDetail = "leave-team-detail"
)

// Server to client events.
const (
	EventConnected         = "connected"
	EventError             = "error"
	EventTeamCreated       = "team:created"
	EventTeamUpdated       = "team:updated"
	EventTeamDeleted       = "team:deleted"
	EventMemberAdded       = "member:added"
	EventMemberRemoved     = "member:removed"
	EventMemberRoleUpdated = "member:roleUpdated"
)

// TimestampLayout is the format of every payload timestamp.
const TimestampLayout = time.RFC3339Nano

const (
	teamListPrefix   = "team-list:"
	teamDetailPrefix = "team-detail:"
)

// TeamListRoom is the per-user room receiving events for all of that user's teams.
func TeamListRoom(userID string) string { return teamListPrefix + userID }

// TeamDetailRoom is the per-team room receiving every event for that team.
func TeamDetailRoom(teamID string) string { return teamDetailPrefix + teamID }

// Envelope frames every message on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an envelope carrying payload.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an envelope. The payload is left raw for the caller.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event name")
	}
	return env, nil
}

// Role values as they appear on the wire.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Team is the wire shape of a team.
type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User is the public projection of an account.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Member is the wire shape of a team membership.
type Member struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	User      *User     `json:"user,omitempty"`
}

// TeamUpdates lists the team fields changed by a team:updated event.
type TeamUpdates struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Apply copies the changed fields onto team.
func (u TeamUpdates) Apply(team *Team) {
	if u.Name != nil {
		team.Name = *u.Name
	}
	if u.Description != nil {
		desc := *u.Description
		team.Description = &desc
	}
}

// Connected confirms a new connection.
type Connected struct {
	SocketID  string `json:"socketId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ErrorPayload reports a rejected intent or malformed frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TeamCreatedPayload is the data of team:created.
type TeamCreatedPayload struct {
	Team      Team   `json:"team"`
	Timestamp string `json:"timestamp"`
}

// TeamUpdatedPayload is the data of team:updated.
type TeamUpdatedPayload struct {
	TeamID    string      `json:"teamId"`
	Updates   TeamUpdates `json:"updates"`
	Timestamp string      `json:"timestamp"`
}

// TeamDeletedPayload is the data of team:deleted.
type TeamDeletedPayload struct {
	TeamID    string `json:"teamId"`
	Timestamp string `json:"timestamp"`
}

// MemberAddedPayload is the data of member:added.
type MemberAddedPayload struct {
	TeamID    string `json:"teamId"`
	Member    Member `json:"member"`
	Timestamp string `json:"timestamp"`
}

// MemberRemovedPayload is the data of member:removed.
type MemberRemovedPayload struct {
	TeamID    string `json:"teamId"`
	MemberID  string `json:"memberId"`
	Timestamp string `json:"timestamp"`
}

// MemberRoleUpdatedPayload is the data of member:roleUpdated.
type MemberRoleUpdatedPayload struct {
	TeamID    string `json:"teamId"`
	MemberID  string `json:"memberId"`
	NewRole   string `json:"newRole"`
	Timestamp string `json:"timestamp"`
}

// TeamListIntent is the data of join-team-list and leave-team-list.
type TeamListIntent struct {
	UserID string `json:"userId"`
}

// TeamDetailIntent is the data of join-team-detail and leave-team-detail.
type TeamDetailIntent struct {
	TeamID string `json:"teamId"`
}

// IntentID extracts the identifier from an intent payload. Both a bare JSON
// string and an object carrying field are accepted.
func IntentID(data json.RawMessage, field string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("intent payload missing %s", field)
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare == "" {
			return "", fmt.Errorf("intent payload missing %s", field)
		}
		return bare, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("decode intent payload: %w", err)
	}
	raw, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("intent payload missing %s", field)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", fmt.Errorf("intent payload has invalid %s", field)
	}
	return id, nil
}

// Credentials is the body of /auth/signup and /auth/login. Name is only read
// on signup.
type Credentials struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// RefreshRequest is the body of /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Tokens is a freshly issued access and refresh token pair. ExpiresIn is in seconds.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// AuthResponse answers every successful authentication call.
type AuthResponse struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}

// CreateTeamRequest is the body of POST /teams.
type CreateTeamRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// AddMemberRequest is the body of POST /teams/{teamId}/members. Exactly one of
// UserID and Email identifies the user. Role defaults to MEMBER.
type AddMemberRequest struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ChangeRoleRequest is the body of PATCH /teams/{teamId}/members/{memberId}.
type ChangeRoleRequest struct {
	Role string `json:"role"`
}

// APIError is the body of every failed HTTP call. Code is set for
// authorization denials.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
