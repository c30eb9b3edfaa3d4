package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
	apperrors "teamchat-backend/pkg/errors"
)

// Inbound event names
const (
	EventCallInitiate   = "call-initiate"
	EventCallAnswer     = "call-answer"
	EventCallDecline    = "call-decline"
	EventCallEnd        = "call-end"
	EventCallOffer      = "call-offer"
	EventCallAnswerSDP  = "call-answer-webrtc"
	EventIceCandidate   = "ice-candidate"
	EventGroupInitiate  = "group-call-initiate"
	EventGroupJoin      = "group-call-join"
	EventGroupLeave     = "group-call-leave"
	EventGroupEnd       = "group-call-end"
	EventGroupStatus    = "group-call-participant-status"
	EventGroupOffer     = "group-call-offer"
	EventGroupAnswer    = "group-call-answer"
	EventGroupCandidate = "group-call-ice-candidate"
)

// Outbound event names
const (
	EventIncomingCall      = "incoming-call"
	EventCallInitiated     = "call-initiated"
	EventCallAnswered      = "call-answered"
	EventCallDeclined      = "call-declined"
	EventCallEnded         = "call-ended"
	EventIncomingGroupCall = "incoming-group-call"
	EventGroupParticipants = "group-call-participants"
	EventGroupEnded        = "group-call-ended"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventOnlineUsers       = "online-users"
	EventNotification      = "notification"
	EventError             = "error"
)

// Envelope is the JSON frame exchanged on the socket
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Command is a validated inbound event. The set of implementations is closed.
type Command interface {
	Event() string
	command()
}

// CallInitiate starts a 1:1 call. CallID is optional.
type CallInitiate struct {
	ReceiverID uuid.UUID       `json:"receiverId"`
	CallType   domain.CallType `json:"callType"`
	CallID     uuid.UUID       `json:"callId"`
}

// CallAnswer accepts a ringing call
type CallAnswer struct {
	CallID uuid.UUID       `json:"callId"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// CallDecline rejects a ringing call
type CallDecline struct {
	CallID uuid.UUID `json:"callId"`
}

// CallEnd hangs up a 1:1 call
type CallEnd struct {
	CallID uuid.UUID `json:"callId"`
}

// CallOffer carries the caller's SDP offer
type CallOffer struct {
	CallID uuid.UUID       `json:"callId"`
	Offer  json.RawMessage `json:"offer"`
}

// CallAnswerSDP carries the receiver's SDP answer
type CallAnswerSDP struct {
	CallID uuid.UUID       `json:"callId"`
	Answer json.RawMessage `json:"answer"`
}

// IceCandidate carries one ICE candidate for a 1:1 call
type IceCandidate struct {
	CallID    uuid.UUID       `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

// GroupCallInitiate starts or fetches a group call
type GroupCallInitiate struct {
	GroupID  uuid.UUID       `json:"groupId"`
	CallType domain.CallType `json:"callType"`
	CallID   uuid.UUID       `json:"callId"`
}

// GroupCallJoin adds the sender to the roster
type GroupCallJoin struct {
	CallID  uuid.UUID `json:"callId"`
	GroupID uuid.UUID `json:"groupId"`
}

// GroupCallLeave removes the sender from the roster
type GroupCallLeave struct {
	CallID  uuid.UUID `json:"callId"`
	GroupID uuid.UUID `json:"groupId"`
}

// GroupCallEnd ends a group call for everyone
type GroupCallEnd struct {
	CallID  uuid.UUID `json:"callId"`
	GroupID uuid.UUID `json:"groupId"`
}

// GroupCallParticipantStatus changes mute or video state. TargetUserID
// defaults to the sender.
type GroupCallParticipantStatus struct {
	CallID         uuid.UUID `json:"callId"`
	TargetUserID   uuid.UUID `json:"targetUserId"`
	IsMuted        *bool     `json:"isMuted,omitempty"`
	IsVideoEnabled *bool     `json:"isVideoEnabled,omitempty"`
}

// GroupCallSignal carries a group offer, answer or ICE candidate. Kind is
// set from the event name, not from the payload.
type GroupCallSignal struct {
	Kind         string          `json:"-"`
	CallID       uuid.UUID       `json:"callId"`
	GroupID      uuid.UUID       `json:"groupId"`
	TargetUserID *uuid.UUID      `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func (CallInitiate) Event() string               { return EventCallInitiate }
func (CallAnswer) Event() string                 { return EventCallAnswer }
func (CallDecline) Event() string                { return EventCallDecline }
func (CallEnd) Event() string                    { return EventCallEnd }
func (CallOffer) Event() string                  { return EventCallOffer }
func (CallAnswerSDP) Event() string              { return EventCallAnswerSDP }
func (IceCandidate) Event() string               { return EventIceCandidate }
func (GroupCallInitiate) Event() string          { return EventGroupInitiate }
func (GroupCallJoin) Event() string              { return EventGroupJoin }
func (GroupCallLeave) Event() string             { return EventGroupLeave }
func (GroupCallEnd) Event() string               { return EventGroupEnd }
func (GroupCallParticipantStatus) Event() string { return EventGroupStatus }
func (s GroupCallSignal) Event() string          { return s.Kind }

func (CallInitiate) command()               {}
func (CallAnswer) command()                 {}
func (CallDecline) command()                {}
func (CallEnd) command()                    {}
func (CallOffer) command()                  {}
func (CallAnswerSDP) command()              {}
func (IceCandidate) command()               {}
func (GroupCallInitiate) command()          {}
func (GroupCallJoin) command()              {}
func (GroupCallLeave) command()             {}
func (GroupCallEnd) command()               {}
func (GroupCallParticipantStatus) command() {}
func (GroupCallSignal) command()            {}

// Decode parses one frame into a typed command. Unknown events and
// malformed payloads yield a VALIDATION_ERROR; the event name is returned
// whenever it could be read so the error can be attributed.
func Decode(frame []byte) (Command, string, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, "", apperrors.ValidationError("malformed frame")
	}
	if env.Event == "" {
		return nil, "", apperrors.ValidationError("event is required")
	}

	cmd, err := decodeData(env.Event, env.Data)
	if err != nil {
		return nil, env.Event, err
	}
	if err := validate(cmd); err != nil {
		return nil, env.Event, err
	}
	return cmd, env.Event, nil
}

func decodeData(event string, data json.RawMessage) (Command, error) {
	var (
		cmd Command
		err error
	)

	switch event {
	case EventCallInitiate:
		cmd, err = unmarshal[CallInitiate](data)
	case EventCallAnswer:
		cmd, err = unmarshal[CallAnswer](data)
	case EventCallDecline:
		cmd, err = unmarshal[CallDecline](data)
	case EventCallEnd:
		cmd, err = unmarshal[CallEnd](data)
	case EventCallOffer:
		cmd, err = unmarshal[CallOffer](data)
	case EventCallAnswerSDP:
		cmd, err = unmarshal[CallAnswerSDP](data)
	case EventIceCandidate:
		cmd, err = unmarshal[IceCandidate](data)
	case EventGroupInitiate:
		cmd, err = unmarshal[GroupCallInitiate](data)
	case EventGroupJoin:
		cmd, err = unmarshal[GroupCallJoin](data)
	case EventGroupLeave:
		cmd, err = unmarshal[GroupCallLeave](data)
	case EventGroupEnd:
		cmd, err = unmarshal[GroupCallEnd](data)
	case EventGroupStatus:
		cmd, err = unmarshal[GroupCallParticipantStatus](data)
	case EventGroupOffer, EventGroupAnswer, EventGroupCandidate:
		var sig GroupCallSignal
		sig, err = unmarshal[GroupCallSignal](data)
		sig.Kind = event
		cmd = sig
	default:
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown event %q", event))
	}

	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid %s payload", event))
	}
	return cmd, nil
}

func unmarshal[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

func validate(cmd Command) error {
	switch c := cmd.(type) {
	case CallInitiate:
		if c.ReceiverID == uuid.Nil {
			return apperrors.MissingFieldError("receiverId")
		}
		if !c.CallType.Valid() {
			return apperrors.ValidationError("callType must be voice or video")
		}
	case CallAnswer:
		return requireID(c.CallID, "callId")
	case CallDecline:
		return requireID(c.CallID, "callId")
	case CallEnd:
		return requireID(c.CallID, "callId")
	case CallOffer:
		if err := requireID(c.CallID, "callId"); err != nil {
			return err
		}
		return requirePayload(c.Offer, "offer")
	case CallAnswerSDP:
		if err := requireID(c.CallID, "callId"); err != nil {
			return err
		}
		return requirePayload(c.Answer, "answer")
	case IceCandidate:
		if err := requireID(c.CallID, "callId"); err != nil {
			return err
		}
		return requirePayload(c.Candidate, "candidate")
	case GroupCallInitiate:
		if err := requireID(c.GroupID, "groupId"); err != nil {
			return err
		}
		if !c.CallType.Valid() {
			return apperrors.ValidationError("callType must be voice or video")
		}
	case GroupCallJoin:
		return requireID(c.CallID, "callId")
	case GroupCallLeave:
		return requireID(c.CallID, "callId")
	case GroupCallEnd:
		return requireID(c.CallID, "callId")
	case GroupCallParticipantStatus:
		if err := requireID(c.CallID, "callId"); err != nil {
			return err
		}
		if c.IsMuted == nil && c.IsVideoEnabled == nil {
			return apperrors.ValidationError("isMuted or isVideoEnabled is required")
		}
	case GroupCallSignal:
		if err := requireID(c.CallID, "callId"); err != nil {
			return err
		}
		if err := requirePayload(c.Payload, "payload"); err != nil {
			return err
		}
		// only ICE candidates may be broadcast
		if c.Kind != EventGroupCandidate && (c.TargetUserID == nil || *c.TargetUserID == uuid.Nil) {
			return apperrors.MissingFieldError("targetUserId")
		}
	}
	return nil
}

func requireID(id uuid.UUID, field string) error {
	if id == uuid.Nil {
		return apperrors.MissingFieldError(field)
	}
	return nil
}

func requirePayload(raw json.RawMessage, field string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return apperrors.MissingFieldError(field)
	}
	return nil
}

// IncomingCallPayload rings the receiver of a 1:1 call
type IncomingCallPayload struct {
	CallID   uuid.UUID            `json:"callId"`
	Caller   *domain.UserResponse `json:"caller"`
	CallType domain.CallType      `json:"callType"`
	RoomName string               `json:"roomName"`
}

// CallInitiatedPayload confirms a started call to the caller
type CallInitiatedPayload struct {
	CallID     uuid.UUID       `json:"callId"`
	ReceiverID uuid.UUID       `json:"receiverId"`
	CallType   domain.CallType `json:"callType"`
	Status     string          `json:"status"`
	RoomName   string          `json:"roomName"`
}

// CallLifecyclePayload reports answer, decline and end to the peer
type CallLifecyclePayload struct {
	CallID   uuid.UUID       `json:"callId"`
	From     uuid.UUID       `json:"from"`
	Status   string          `json:"status"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	Duration int             `json:"duration,omitempty"`
}

// CallSignalPayload relays SDP or ICE between 1:1 peers
type CallSignalPayload struct {
	CallID    uuid.UUID       `json:"callId"`
	From      uuid.UUID       `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// IncomingGroupCallPayload invites group members to a call
type IncomingGroupCallPayload struct {
	CallID    uuid.UUID            `json:"callId"`
	GroupID   uuid.UUID            `json:"groupId"`
	Initiator *domain.UserResponse `json:"initiator"`
	CallType  domain.CallType      `json:"callType"`
	RoomName  string               `json:"roomName"`
}

// GroupParticipantsPayload is the full roster snapshot
type GroupParticipantsPayload struct {
	CallID       uuid.UUID            `json:"callId"`
	GroupID      uuid.UUID            `json:"groupId"`
	Status       string               `json:"status"`
	Participants []domain.Participant `json:"participants"`
}

// GroupEndedPayload tells participants a group call is over
type GroupEndedPayload struct {
	CallID   uuid.UUID `json:"callId"`
	GroupID  uuid.UUID `json:"groupId"`
	Reason   string    `json:"reason"`
	Duration int       `json:"duration"`
}

// GroupSignalPayload relays SDP or ICE between group peers
type GroupSignalPayload struct {
	CallID  uuid.UUID       `json:"callId"`
	GroupID uuid.UUID       `json:"groupId"`
	From    uuid.UUID       `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// NotificationPayload is a push delivered over the socket
type NotificationPayload struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sentAt"`
}

// ErrorPayload reports a failed event to its sender only
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorPayload converts err into the wire error shape. Internal causes
// are never exposed.
func NewErrorPayload(event string, err error) ErrorPayload {
	appErr := apperrors.GetAppError(err)
	return ErrorPayload{
		Event:   event,
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}
}
