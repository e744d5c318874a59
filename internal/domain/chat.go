package domain

import (
	"fmt"
	"strings"
	"time"
)

// RoomID is either a session id or a course id.
type RoomID string

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

const (
	MaxTextLen = 4 << 10
	MaxFileLen = 5 << 20
)

type ChatMessage struct {
	ID         string      `json:"id"`
	RoomID     RoomID      `json:"roomId"`
	Seq        uint64      `json:"seq"`
	SenderID   UserID      `json:"sender"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	FileName   string      `json:"fileName,omitempty"`
	MimeType   string      `json:"mimeType,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ChatDraft is a message before the relay stamps it.
type ChatDraft struct {
	Content  string
	Type     MessageType
	FileName string
	MimeType string
}

func (d ChatDraft) Validate() error {
	switch d.Type {
	case MessageText:
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("%w: empty message", ErrBadPayload)
		}
		if len(d.Content) > MaxTextLen {
			return fmt.Errorf("%w: message exceeds %d bytes", ErrBadPayload, MaxTextLen)
		}
	case MessageFile:
		if !strings.HasPrefix(d.Content, "data:") {
			return fmt.Errorf("%w: file content must be a data url", ErrBadPayload)
		}
		if len(d.Content) > MaxFileLen {
			return fmt.Errorf("%w: file exceeds %d bytes", ErrBadPayload, MaxFileLen)
		}
		if d.FileName == "" {
			return fmt.Errorf("%w: file name required", ErrBadPayload)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrBadPayload, d.Type)
	}
	return nil
}
