package events

import "mandalaquest/internal/score"

// Scope tells which state machine a phase change came from.
type Scope string

const (
	ScopeSession   = Scope("session")
	ScopeChallenge = Scope("challenge")
)

type PhaseChangeEvent struct {
	Team      string `json:"team"`
	AttemptID string `json:"attempt_id,omitempty"`
	Scope     Scope  `json:"scope"`
	Phase     string `json:"phase"`
}

type CompletionEvent struct {
	Team   string       `json:"team"`
	Level  int          `json:"level"`
	Result score.Result `json:"result"`
}

type Bus struct {
	PhaseChanges chan PhaseChangeEvent
	Completions  chan CompletionEvent
}

func NewBus() *Bus {
	return &Bus{
		PhaseChanges: make(chan PhaseChangeEvent, 10),
		Completions:  make(chan CompletionEvent, 10),
	}
}

// PublishPhase sends without blocking and reports whether the event was queued.
func (b *Bus) PublishPhase(ev PhaseChangeEvent) bool {
	select {
	case b.PhaseChanges <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) PublishCompletion(ev CompletionEvent) bool {
	select {
	case b.Completions <- ev:
		return true
	default:
		return false
	}
}
