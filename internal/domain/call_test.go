package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_Finish(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	call := NewCall(uuid.New(), uuid.New(), uuid.New(), CallTypeVideo, start)

	call.Finish(CallStatusEnded, start.Add(95*time.Second+700*time.Millisecond))

	assert.Equal(t, CallStatusEnded, call.Status)
	assert.Equal(t, 95, call.Duration)
	require.NotNil(t, call.EndTime)
	assert.True(t, call.Status.IsTerminal())
}

func TestCall_PartyHelpers(t *testing.T) {
	caller, receiver, stranger := uuid.New(), uuid.New(), uuid.New()
	call := NewCall(uuid.New(), caller, receiver, CallTypeVoice, time.Now())

	assert.True(t, call.IsParty(caller))
	assert.True(t, call.IsParty(receiver))
	assert.False(t, call.IsParty(stranger))
	assert.Equal(t, receiver, call.OtherParty(caller))
	assert.Equal(t, caller, call.OtherParty(receiver))
	assert.True(t, call.Answerable())

	call.Status = CallStatusRinging
	assert.True(t, call.Answerable())
	call.Status = CallStatusAnswered
	assert.False(t, call.Answerable())
}

func TestGroupCall_JoinLeaveRejoinReusesEntry(t *testing.T) {
	now := time.Now()
	host, member := uuid.New(), uuid.New()
	gc := NewGroupCall(uuid.New(), uuid.New(), host, CallTypeVideo, 10, now)

	assert.Equal(t, GroupCallStatusInitiated, gc.Status)
	assert.True(t, gc.IsHost(host))

	gc.Join(member, now)
	assert.Equal(t, GroupCallStatusActive, gc.Status)
	assert.Len(t, gc.Participants, 2)

	assert.True(t, gc.Leave(member, now))
	assert.False(t, gc.Leave(member, now), "second leave is a no-op")
	assert.Equal(t, 1, gc.ActiveCount())
	require.NotNil(t, gc.Participant(member).LeftAt)

	gc.Join(member, now)
	assert.Len(t, gc.Participants, 2)
	assert.Nil(t, gc.Participant(member).LeftAt)
	assert.ElementsMatch(t, []uuid.UUID{host, member}, gc.ActiveIDs())
}

func TestGroupCall_HostRejoinDoesNotActivate(t *testing.T) {
	host := uuid.New()
	gc := NewGroupCall(uuid.New(), uuid.New(), host, CallTypeVoice, 10, time.Now())

	gc.Join(host, time.Now())

	assert.Equal(t, GroupCallStatusInitiated, gc.Status)
	assert.Len(t, gc.Participants, 1)
}

func TestGroupCall_End(t *testing.T) {
	start := time.Now()
	host, member := uuid.New(), uuid.New()
	gc := NewGroupCall(uuid.New(), uuid.New(), host, CallTypeVideo, 10, start)
	gc.Join(member, start)

	gc.End(start.Add(2 * time.Minute))

	assert.True(t, gc.IsEnded())
	assert.Zero(t, gc.ActiveCount())
	assert.Equal(t, 120, gc.Duration)
}

func TestGroup_Roles(t *testing.T) {
	admin, member, stranger := uuid.New(), uuid.New(), uuid.New()
	g := &Group{Members: []GroupMember{
		{UserID: admin, Role: GroupRoleAdmin},
		{UserID: member, Role: GroupRoleMember},
	}}

	assert.True(t, g.IsMember(member))
	assert.False(t, g.IsMember(stranger))
	assert.True(t, g.IsAdmin(admin))
	assert.False(t, g.IsAdmin(member))
	assert.Len(t, g.MemberIDs(), 2)
}
