package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/splax/teamsync/internal/domain"
	"github.com/splax/teamsync/pkg/protocol"
)

// Publisher delivers a payload to the union of rooms.
type Publisher interface {
	Publish(payload []byte, rooms ...string) int
}

// Broadcaster turns committed domain events into room pushes. It is created
// once per process and handed to whatever emits events.
type Broadcaster struct {
	hub Publisher
	log *slog.Logger
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewBroadcaster wraps a hub.
func NewBroadcaster(hub Publisher, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{hub: hub, log: logger, now: time.Now}
}

// Broadcast pushes evt to team-list rooms of every recipient and, for all
// kinds but team creation and deletion, to the team's detail room. It never
// waits on receivers.
func (b *Broadcaster) Broadcast(evt domain.Event) {
	rooms := Rooms(evt)
	if len(rooms) == 0 {
		return
	}

	// Stamping and publishing under one lock keeps timestamps in push order.
	b.mu.Lock()
	defer b.mu.Unlock()
	stamp := b.stamp()
	name, payload, ok := wirePayload(evt, stamp.Format(protocol.TimestampLayout))
	if !ok {
		b.log.Warn("unknown event kind", "kind", evt.Kind.String(), "team_id", evt.TeamID)
		return
	}
	frame, err := protocol.Encode(name, payload)
	if err != nil {
		b.log.Error("encode broadcast", "event", name, "team_id", evt.TeamID, "error", err)
		return
	}
	delivered := b.hub.Publish(frame, rooms...)
	b.log.Debug("event broadcast", "event", name, "team_id", evt.TeamID, "rooms", len(rooms), "delivered", delivered)
}

// stamp returns a UTC time strictly after the previous stamp.
func (b *Broadcaster) stamp() time.Time {
	t := b.now().UTC()
	if !t.After(b.last) {
		t = b.last.Add(time.Nanosecond)
	}
	b.last = t
	return t
}

// Rooms lists the rooms evt is pushed to. Recipients are deduplicated.
func Rooms(evt domain.Event) []string {
	rooms := make([]string, 0, len(evt.Recipients)+1)
	seen := make(map[string]struct{}, len(evt.Recipients))
	for _, userID := range evt.Recipients {
		if userID == "" {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		rooms = append(rooms, protocol.TeamListRoom(userID))
	}
	switch evt.Kind {
	case domain.TeamCreated, domain.TeamDeleted:
	default:
		if evt.TeamID != "" {
			rooms = append(rooms, protocol.TeamDetailRoom(evt.TeamID))
		}
	}
	return rooms
}

func wirePayload(evt domain.Event, ts string) (string, any, bool) {
	switch evt.Kind {
	case domain.TeamCreated:
		var team protocol.Team
		if evt.Team != nil {
			team = WireTeam(*evt.Team)
		}
		return protocol.EventTeamCreated, protocol.TeamCreatedPayload{Team: team, Timestamp: ts}, true
	case domain.TeamUpdated:
		return protocol.EventTeamUpdated, protocol.TeamUpdatedPayload{
			TeamID:    evt.TeamID,
			Updates:   protocol.TeamUpdates{Name: evt.Updates.Name, Description: evt.Updates.Description},
			Timestamp: ts,
		}, true
	case domain.TeamDeleted:
		return protocol.EventTeamDeleted, protocol.TeamDeletedPayload{TeamID: evt.TeamID, Timestamp: ts}, true
	case domain.MemberAdded:
		var m protocol.Member
		if evt.Member != nil {
			m = WireMember(*evt.Member)
		}
		return protocol.EventMemberAdded, protocol.MemberAddedPayload{TeamID: evt.TeamID, Member: m, Timestamp: ts}, true
	case domain.MemberRemoved:
		return protocol.EventMemberRemoved, protocol.MemberRemovedPayload{TeamID: evt.TeamID, MemberID: evt.MemberID, Timestamp: ts}, true
	case domain.MemberRoleUpdated:
		return protocol.EventMemberRoleUpdated, protocol.MemberRoleUpdatedPayload{
			TeamID:    evt.TeamID,
			MemberID:  evt.MemberID,
			NewRole:   string(evt.NewRole),
			Timestamp: ts,
		}, true
	}
	return "", nil, false
}

// WireTeam converts a team to its wire shape.
func WireTeam(t domain.Team) protocol.Team {
	return protocol.Team{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// WireMember converts a membership to its wire shape.
func WireMember(m domain.TeamMember) protocol.Member {
	out := protocol.Member{
		ID:        m.ID,
		TeamID:    m.TeamID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		CreatedAt: m.CreatedAt,
	}
	if m.User != nil {
		out.User = &protocol.User{ID: m.User.ID, Name: m.User.Name, Email: m.User.Email}
	}
	return out
}
