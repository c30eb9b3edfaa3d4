package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CallType is the media kind of a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a 1:1 call
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusDeclined  CallStatus = "declined"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
)

// IsTerminal reports whether no transition leaves s
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusDeclined, CallStatusEnded, CallStatusMissed:
		return true
	}
	return false
}

// Call represents a 1:1 audio/video call. Offer, Answer and IceCandidates
// are opaque WebRTC payloads relayed verbatim.
type Call struct {
	CallID        uuid.UUID         `json:"call_id"`
	CallerID      uuid.UUID         `json:"caller_id"`
	ReceiverID    uuid.UUID         `json:"receiver_id"`
	CallType      CallType          `json:"call_type"`
	Status        CallStatus        `json:"status"`
	RoomName      string            `json:"room_name"`
	Offer         json.RawMessage   `json:"offer,omitempty"`
	Answer        json.RawMessage   `json:"answer,omitempty"`
	IceCandidates []json.RawMessage `json:"ice_candidates,omitempty"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	Duration      int               `json:"duration,omitempty"` // seconds
	Version       int64             `json:"-"`
}

// NewCall builds an initiated call between caller and receiver
func NewCall(callID, callerID, receiverID uuid.UUID, callType CallType, now time.Time) *Call {
	return &Call{
		CallID:     callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     CallStatusInitiated,
		RoomName:   "call_" + callID.String(),
		StartTime:  now,
	}
}

// IsParty reports whether userID is the caller or the receiver
func (c *Call) IsParty(userID uuid.UUID) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// OtherParty returns the peer of userID. It assumes IsParty(userID).
func (c *Call) OtherParty(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Answerable reports whether the receiver may still answer or decline
func (c *Call) Answerable() bool {
	return c.Status == CallStatusInitiated || c.Status == CallStatusRinging
}

// Finish moves the call to a terminal status and stamps end time and
// whole-second duration
func (c *Call) Finish(status CallStatus, now time.Time) {
	c.Status = status
	c.EndTime = &now
	c.Duration = wholeSeconds(c.StartTime, now)
}

// GroupCallStatus is the lifecycle state of a group call
type GroupCallStatus string

const (
	GroupCallStatusInitiated GroupCallStatus = "initiated"
	GroupCallStatusActive    GroupCallStatus = "active"
	GroupCallStatusEnded     GroupCallStatus = "ended"
)

// Participant roles
const (
	ParticipantRoleHost        = "host"
	ParticipantRoleParticipant = "participant"
)

// Participant is one roster entry, keyed by UserID
type Participant struct {
	UserID         uuid.UUID  `json:"userId"`
	Role           string     `json:"role"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LeftAt         *time.Time `json:"leftAt,omitempty"`
	IsActive       bool       `json:"isActive"`
	IsMuted        bool       `json:"isMuted"`
	IsVideoEnabled bool       `json:"isVideoEnabled"`
}

// GroupCall represents a call among members of a group
type GroupCall struct {
	CallID          uuid.UUID       `json:"call_id"`
	GroupID         uuid.UUID       `json:"group_id"`
	InitiatorID     uuid.UUID       `json:"initiator_id"`
	CallType        CallType        `json:"call_type"`
	Status          GroupCallStatus `json:"status"`
	RoomName        string          `json:"room_name"`
	Participants    []Participant   `json:"participants"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Duration        int             `json:"duration,omitempty"` // seconds
	MaxParticipants int             `json:"max_participants"`
	Version         int64           `json:"-"`
}

// NewGroupCall builds an initiated group call whose roster holds only the host
func NewGroupCall(callID, groupID, initiatorID uuid.UUID, callType CallType, maxParticipants int, now time.Time) *GroupCall {
	return &GroupCall{
		CallID:      callID,
		GroupID:     groupID,
		InitiatorID: initiatorID,
		CallType:    callType,
		Status:      GroupCallStatusInitiated,
		RoomName:    "group_call_" + callID.String(),
		Participants: []Participant{{
			UserID:         initiatorID,
			Role:           ParticipantRoleHost,
			JoinedAt:       now,
			IsActive:       true,
			IsVideoEnabled: callType == CallTypeVideo,
		}},
		StartTime:       now,
		MaxParticipants: maxParticipants,
	}
}

// IsEnded reports whether the group call is over
func (g *GroupCall) IsEnded() bool {
	return g.Status == GroupCallStatusEnded
}

// Participant returns the roster entry for userID, or nil
func (g *GroupCall) Participant(userID uuid.UUID) *Participant {
	for i := range g.Participants {
		if g.Participants[i].UserID == userID {
			return &g.Participants[i]
		}
	}
	return nil
}

// IsHost reports whether userID holds the host role
func (g *GroupCall) IsHost(userID uuid.UUID) bool {
	p := g.Participant(userID)
	return p != nil && p.Role == ParticipantRoleHost
}

// ActiveParticipants returns a copy of the active roster entries
func (g *GroupCall) ActiveParticipants() []Participant {
	active := make([]Participant, 0, len(g.Participants))
	for _, p := range g.Participants {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}

// ActiveIDs returns the ids of active participants
func (g *GroupCall) ActiveIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Participants))
	for _, p := range g.Participants {
		if p.IsActive {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// ActiveCount returns the number of active participants
func (g *GroupCall) ActiveCount() int {
	n := 0
	for _, p := range g.Participants {
		if p.IsActive {
			n++
		}
	}
	return n
}

// Join reactivates userID's existing entry or appends a new one. The first
// join by anyone other than the initiator moves the call to active.
func (g *GroupCall) Join(userID uuid.UUID, now time.Time) {
	if p := g.Participant(userID); p != nil {
		p.IsActive = true
		p.LeftAt = nil
		p.JoinedAt = now
	} else {
		g.Participants = append(g.Participants, Participant{
			UserID:         userID,
			Role:           ParticipantRoleParticipant,
			JoinedAt:       now,
			IsActive:       true,
			IsVideoEnabled: g.CallType == CallTypeVideo,
		})
	}

	if g.Status == GroupCallStatusInitiated && userID != g.InitiatorID {
		g.Status = GroupCallStatusActive
	}
}

// Leave marks userID inactive. It returns false when userID had no active entry.
func (g *GroupCall) Leave(userID uuid.UUID, now time.Time) bool {
	p := g.Participant(userID)
	if p == nil || !p.IsActive {
		return false
	}
	p.IsActive = false
	p.LeftAt = &now
	return true
}

// End deactivates every participant and stamps end time and duration
func (g *GroupCall) End(now time.Time) {
	for i := range g.Participants {
		if g.Participants[i].IsActive {
			g.Participants[i].IsActive = false
			g.Participants[i].LeftAt = &now
		}
	}
	g.Status = GroupCallStatusEnded
	g.EndTime = &now
	g.Duration = wholeSeconds(g.StartTime, now)
}

func wholeSeconds(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Second)
}
