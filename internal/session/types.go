package session

import (
	"context"
	"errors"
	"time"

	"github.com/Sauhard74/voice-interaction-plat/internal/capture"
	"github.com/Sauhard74/voice-interaction-plat/internal/playback"
	"github.com/Sauhard74/voice-interaction-plat/internal/transcript"
	"github.com/Sauhard74/voice-interaction-plat/internal/transport"
)

// State is the call state machine. Idle doubles as the armed state once a
// conversation is open; ConversationID distinguishes the two.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateAwaitingResponse
	StateAgentSpeaking
	StateMuted
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCapturing:
		return "Capturing"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateAgentSpeaking:
		return "AgentSpeaking"
	case StateMuted:
		return "Muted"
	case StateEnded:
		return "Ended"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

// Mode selects the transport variant for a conversation.
type Mode int

const (
	// ModeTurnBased sends one request per completed user turn.
	ModeTurnBased Mode = iota
	// ModeStreaming ships chunks over a persistent socket as they arrive.
	ModeStreaming
)

// Session misuse errors returned synchronously from entry points.
var (
	ErrSessionClosed = errors.New("session: session has ended")
	ErrNotArmed      = errors.New("session: no open conversation")
	ErrBadState      = errors.New("session: operation not valid in current state")
)

// TurnTransport is the request/response transport consumed by the session.
// *transport.Client satisfies it.
type TurnTransport interface {
	StartConversation(ctx context.Context) (*transport.Conversation, error)
	SendAudio(ctx context.Context, conversationID string, clip []byte) (*transport.AudioResponse, error)
	GetTranscript(ctx context.Context, conversationID string) ([]transport.TranscriptItem, error)
	Close()
}

// StreamTransport is the persistent-socket transport consumed by the session.
// *transport.Socket satisfies it.
type StreamTransport interface {
	Send(conversationID string, chunk []byte) error
	EndTurn(conversationID string) error
	Events() <-chan transport.Event
	Disconnected() <-chan error
	Close() error
}

// Archiver receives each completed user clip. Failures are logged, never
// surfaced to the call.
type Archiver interface {
	ArchiveTurn(ctx context.Context, conversationID string, turn int, clip []byte) error
}

// Config wires the session's collaborators.
type Config struct {
	Mode Mode

	// Turn is required in both modes: it creates the conversation and, in
	// turn-based mode, carries the audio.
	Turn TurnTransport

	// DialStream opens the streaming socket after the conversation is
	// created. Required for ModeStreaming.
	DialStream func(ctx context.Context, conversationID string) (StreamTransport, error)

	// RedialOnDrop retries DialStream once after a socket drop before the
	// session transitions to Failed.
	RedialOnDrop bool

	Capture *capture.Engine
	Player  playback.Player

	// Placeholder text for the optimistic user transcript row.
	Placeholder string

	// SendTimeout bounds the turn-based send. Zero means no limit.
	SendTimeout time.Duration

	// ResolveAudioURL maps backend audio references to fetchable URLs.
	// Defaults to the identity function.
	ResolveAudioURL func(string) string

	// Archiver, when set, receives every completed user clip (turn-based
	// mode only; streaming chunks are not retained).
	Archiver Archiver
}

// Notice is one user-visible failure notification.
type Notice struct {
	Kind  string
	Fatal bool
	Err   error
}

// Notice kinds.
const (
	KindCapture      = "capture"
	KindTransport    = "transport"
	KindPlayback     = "playback"
	KindConversation = "conversation"
)

// Callbacks observe the session. All callbacks run on the session's
// serialized timeline; they must not call back into the session.
type Callbacks struct {
	OnState      func(State)
	OnTranscript func([]transcript.Entry)
	OnNotice     func(Notice)
}
