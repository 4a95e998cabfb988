// Package session holds per-user conversation state and the pure transition
// table that drives it. It performs no I/O.
package session

import (
	"time"

	"github.com/google/uuid"
)

// State identifies a conversation step.
type State string

const (
	// StateNone means the user has no session.
	StateNone State = ""
	// StateAwaitingPhoto waits for the user to send an image.
	StateAwaitingPhoto State = "awaiting_photo"
	// StateAwaitingNext holds a stored image and waits for the user to ask for recognition.
	StateAwaitingNext State = "awaiting_next"
)

// EventKind categorizes an inbound message.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventPhoto  EventKind = "photo"
	EventText   EventKind = "text"
	EventCancel EventKind = "cancel"
	EventStop   EventKind = "stop"
)

// Action is the side effect a transition requires.
type Action int

const (
	ActionNone Action = iota
	ActionGreet
	ActionStoreImage
	ActionClassify
	ActionFarewell
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionGreet:
		return "greet"
	case ActionStoreImage:
		return "store_image"
	case ActionClassify:
		return "classify"
	case ActionFarewell:
		return "farewell"
	case ActionShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Session stores conversation state for one user.
type Session struct {
	UserID int64
	State  State
	// CorrelationID ties log lines and history rows of one conversation together.
	CorrelationID string
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// New starts a session in StateAwaitingPhoto with a fresh correlation id.
func New(userID int64, now time.Time) Session {
	return Session{
		UserID:        userID,
		State:         StateAwaitingPhoto,
		CorrelationID: uuid.NewString(),
		StartedAt:     now,
		UpdatedAt:     now,
	}
}
