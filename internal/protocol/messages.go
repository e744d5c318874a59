// Package protocol defines the signaling channel's closed set of message kinds.
// Every frame is an envelope {"type": kind, "payload": {...}}.
package protocol

import (
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Client to server.
const (
	TypeSessionJoin  = "live_class:join"
	TypeSessionLeave = "live_class:leave"
	TypeSessionStart = "live_class:start"
	TypeSessionEnd   = "live_class:end"
	TypeSessionMedia = "live_class:media"
	TypeOffer        = "webrtc:offer"
	TypeAnswer       = "webrtc:answer"
	TypeCandidate    = "webrtc:ice_candidate"
	TypeChatJoin     = "chat:join"
	TypeChatLeave    = "chat:leave"
	TypeChatMessage  = "chat:message"
	TypePing         = "ping"
)

// Server to client. webrtc:* and chat:message reuse the names above.
const (
	TypeSessionJoined      = "live_class:joined"
	TypeSessionLeft        = "live_class:left"
	TypeParticipantJoined  = "participant-joined"
	TypeParticipantLeft    = "participant-left"
	TypeParticipantUpdated = "participant-updated"
	TypeSessionStatus      = "session-status"
	TypeChatJoined         = "chat:joined"
	TypeChatLeft           = "chat:left"
	TypeChatOnline         = "chat:online_users"
	TypeError              = "error"
	TypePong               = "pong"
)

// Message is any frame payload; Kind is its envelope type.
type Message interface {
	Kind() string
}

type SessionRef struct {
	SessionID domain.SessionID `json:"sessionId" validate:"required,max=64"`
}

type JoinSession struct{ SessionRef }
type LeaveSession struct{ SessionRef }
type StartSession struct{ SessionRef }
type EndSession struct{ SessionRef }

type UpdateMedia struct {
	SessionRef
	domain.MediaFlags
}

type Offer struct {
	TargetID    domain.UserID             `json:"targetId" validate:"required,max=64"`
	Description webrtc.SessionDescription `json:"description"`
}

type Answer struct {
	TargetID    domain.UserID             `json:"targetId" validate:"required,max=64"`
	Description webrtc.SessionDescription `json:"description"`
}

type Candidate struct {
	TargetID  domain.UserID           `json:"targetId" validate:"required,max=64"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type RoomRef struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=64"`
}

type JoinRoom struct{ RoomRef }
type LeaveRoom struct{ RoomRef }

type SendChat struct {
	RoomRef
	Content  string             `json:"content" validate:"required"`
	Type     domain.MessageType `json:"type" validate:"required,oneof=text file"`
	FileName string             `json:"fileName,omitempty" validate:"max=255"`
	MimeType string             `json:"mimeType,omitempty" validate:"max=127"`
}

func (m SendChat) Draft() domain.ChatDraft {
	return domain.ChatDraft{Content: m.Content, Type: m.Type, FileName: m.FileName, MimeType: m.MimeType}
}

type Ping struct{}

func (JoinSession) Kind() string  { return TypeSessionJoin }
func (LeaveSession) Kind() string { return TypeSessionLeave }
func (StartSession) Kind() string { return TypeSessionStart }
func (EndSession) Kind() string   { return TypeSessionEnd }
func (UpdateMedia) Kind() string  { return TypeSessionMedia }
func (Offer) Kind() string        { return TypeOffer }
func (Answer) Kind() string       { return TypeAnswer }
func (Candidate) Kind() string    { return TypeCandidate }
func (JoinRoom) Kind() string     { return TypeChatJoin }
func (LeaveRoom) Kind() string    { return TypeChatLeave }
func (SendChat) Kind() string     { return TypeChatMessage }
func (Ping) Kind() string         { return TypePing }

// Outbound events.

type SessionJoined struct {
	Session      domain.Session       `json:"session"`
	Participants []domain.Participant `json:"participants"`
}

type SessionLeft struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type ParticipantJoined struct {
	SessionID   domain.SessionID   `json:"sessionId"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeft struct {
	SessionID     domain.SessionID `json:"sessionId"`
	ParticipantID domain.UserID    `json:"participantId"`
}

type ParticipantUpdated struct {
	SessionID   domain.SessionID   `json:"sessionId"`
	Participant domain.Participant `json:"participant"`
}

type SessionStatus struct {
	SessionID domain.SessionID `json:"sessionId"`
	Status    domain.Status    `json:"status"`
}

type RelayedOffer struct {
	SenderID    domain.UserID             `json:"senderId"`
	SessionID   domain.SessionID          `json:"sessionId"`
	Description webrtc.SessionDescription `json:"description"`
}

type RelayedAnswer struct {
	SenderID    domain.UserID             `json:"senderId"`
	SessionID   domain.SessionID          `json:"sessionId"`
	Description webrtc.SessionDescription `json:"description"`
}

type RelayedCandidate struct {
	SenderID  domain.UserID           `json:"senderId"`
	SessionID domain.SessionID        `json:"sessionId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ChatJoined struct {
	RoomID  domain.RoomID `json:"roomId"`
	LastSeq uint64        `json:"lastSeq"`
}

type ChatLeft struct {
	RoomID domain.RoomID `json:"roomId"`
}

type ChatMessage struct {
	domain.ChatMessage
}

type OnlineUser struct {
	ID   domain.UserID `json:"id"`
	Name string        `json:"name"`
}

type OnlineUsers struct {
	RoomID domain.RoomID `json:"roomId"`
	Users  []OnlineUser  `json:"users"`
}

type Error struct {
	Request string `json:"request,omitempty"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type Pong struct{}

func (SessionJoined) Kind() string      { return TypeSessionJoined }
func (SessionLeft) Kind() string        { return TypeSessionLeft }
func (ParticipantJoined) Kind() string  { return TypeParticipantJoined }
func (ParticipantLeft) Kind() string    { return TypeParticipantLeft }
func (ParticipantUpdated) Kind() string { return TypeParticipantUpdated }
func (SessionStatus) Kind() string      { return TypeSessionStatus }
func (RelayedOffer) Kind() string       { return TypeOffer }
func (RelayedAnswer) Kind() string      { return TypeAnswer }
func (RelayedCandidate) Kind() string   { return TypeCandidate }
func (ChatJoined) Kind() string         { return TypeChatJoined }
func (ChatLeft) Kind() string           { return TypeChatLeft }
func (ChatMessage) Kind() string        { return TypeChatMessage }
func (OnlineUsers) Kind() string        { return TypeChatOnline }
func (Error) Kind() string              { return TypeError }
func (Pong) Kind() string               { return TypePong }

// NewError builds an error frame for a failed request.
func NewError(request string, err error) Error {
	return Error{Request: request, Code: domain.Code(err), Error: err.Error()}
}
