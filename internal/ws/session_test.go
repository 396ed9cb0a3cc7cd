package ws

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/teamsync/pkg/protocol"
)

type accessStub struct {
	teams map[string]bool
	err   error
}

func (a accessStub) CanViewTeam(_ context.Context, _ string, teamID string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.teams[teamID], nil
}

func openSession(t *testing.T, h *Hub, userID string, access TeamAccess) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn("sock-" + userID)
	s := NewSession(h, conn, userID, access, testLogger())
	require.NoError(t, s.Open())
	return s, conn
}

func TestSessionOpenSendsConnected(t *testing.T) {
	h := newTestHub(t)
	_, conn := openSession(t, h, "u1", nil)

	envs := conn.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.EventConnected, envs[0].Event)
	var payload protocol.Connected
	decodeData(t, envs[0], &payload)
	assert.Equal(t, "sock-u1", payload.SocketID)
	assert.NotEmpty(t, payload.Message)
	assert.NotEmpty(t, payload.Timestamp)
}

func TestSessionJoinAndLeaveTeamList(t *testing.T) {
	h := newTestHub(t)
	s, conn := openSession(t, h, "u1", nil)
	ctx := context.Background()

	s.Handle(ctx, []byte(`{"event":"join-team-list","data":"u1"}`))
	s.Handle(ctx, []byte(`{"event":"join-team-list","data":{"userId":"u1"}}`))
	assert.Equal(t, []string{conn.ID()}, h.Members("team-list:u1"))

	s.Handle(ctx, []byte(`{"event":"leave-team-list","data":{"userId":"u1"}}`))
	assert.Empty(t, h.Members("team-list:u1"))

	// Leaving twice stays silent.
	s.Handle(ctx, []byte(`{"event":"leave-team-list","data":"u1"}`))
	assert.Equal(t, []string{protocol.EventConnected}, conn.events(t))
}

func TestSessionRejectsForeignTeamList(t *testing.T) {
	h := newTestHub(t)
	s, conn := openSession(t, h, "u1", nil)

	s.Handle(context.Background(), []byte(`{"event":"join-team-list","data":"u2"}`))

	assert.Empty(t, h.Members("team-list:u2"))
	envs := conn.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, protocol.EventError, envs[1].Event)
	var payload protocol.ErrorPayload
	decodeData(t, envs[1], &payload)
	assert.Equal(t, errForeignTeamList.Error(), payload.Message)
}

func TestSessionJoinTeamDetailChecksMembership(t *testing.T) {
	h := newTestHub(t)
	s, conn := openSession(t, h, "u1", accessStub{teams: map[string]bool{"t1": true}})
	ctx := context.Background()

	s.Handle(ctx, []byte(`{"event":"join-team-detail","data":{"teamId":"t1"}}`))
	s.Handle(ctx, []byte(`{"event":"join-team-detail","data":"t2"}`))

	assert.Equal(t, []string{conn.ID()}, h.Members("team-detail:t1"))
	assert.Empty(t, h.Members("team-detail:t2"))
	assert.Equal(t, []string{protocol.EventConnected, protocol.EventError}, conn.events(t))

	s.Handle(ctx, []byte(`{"event":"leave-team-detail","data":"t1"}`))
	assert.Empty(t, h.Members("team-detail:t1"))
}

func TestSessionAccessErrorHidesTeam(t *testing.T) {
	h := newTestHub(t)
	s, _ := openSession(t, h, "u1", accessStub{err: errors.New("db down")})

	err := s.JoinTeamDetail(context.Background(), "t1")

	assert.ErrorIs(t, err, errTeamUnavailable)
	assert.Empty(t, h.Members("team-detail:t1"))
}

func TestSessionMalformedFramesBecomeErrorEvents(t *testing.T) {
	h := newTestHub(t)
	s, conn := openSession(t, h, "u1", nil)
	ctx := context.Background()

	for _, frame := range []string{
		`not json`,
		`{"data":"u1"}`,
		`{"event":"join-team-list"}`,
		`{"event":"join-team-detail","data":{"teamId":""}}`,
		`{"event":"dance"}`,
	} {
		s.Handle(ctx, []byte(frame))
	}

	events := conn.events(t)
	require.Len(t, events, 6)
	for _, e := range events[1:] {
		assert.Equal(t, protocol.EventError, e)
	}
}

func TestSessionCloseDropsRooms(t *testing.T) {
	h := newTestHub(t)
	s, conn := openSession(t, h, "u1", accessStub{teams: map[string]bool{"t1": true}})
	ctx := context.Background()
	require.NoError(t, s.JoinTeamList("u1"))
	require.NoError(t, s.JoinTeamDetail(ctx, "t1"))

	s.Close()

	assert.Empty(t, h.Members("team-list:u1"))
	assert.Empty(t, h.Members("team-detail:t1"))
	assert.Zero(t, h.Publish([]byte("{}"), "team-list:u1"))
	assert.Len(t, conn.events(t), 1)
}
