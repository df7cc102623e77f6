// Package progression tracks how far a team has moved through the map:
// every level is a scroll, a cipher and a challenge, completed in order.
package progression

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"mandalaquest/internal/challenge"
)

var (
	ErrLocked      = errors.New("stage is locked")
	ErrUnknownTeam = errors.New("unknown team")
)

type Team string

const (
	North = Team("North")
	East  = Team("East")
	South = Team("South")
	West  = Team("West")
)

var Teams = []Team{North, East, South, West}

func ParseTeam(s string) (Team, error) {
	for _, t := range Teams {
		if strings.EqualFold(strings.TrimSpace(s), string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTeam, s)
}

// Color is the team's display color.
func (t Team) Color() string {
	switch t {
	case North:
		return "#4a90d9"
	case East:
		return "#e0a030"
	case South:
		return "#d9534f"
	case West:
		return "#5cb85c"
	default:
		return "#999999"
	}
}

type Stage string

const (
	Scroll    = Stage("scroll")
	Cipher    = Stage("cipher")
	Challenge = Stage("challenge")
)

var Stages = []Stage{Scroll, Cipher, Challenge}

func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

func stageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

const DefaultLevels = 3

// VariantForLevel cycles fire, wave, lightning.
func VariantForLevel(level int) challenge.Variant {
	if level < 0 {
		level = -level
	}
	return challenge.Variants[level%len(challenge.Variants)]
}

type Progress struct {
	Team     Team   `json:"team"`
	Level    int    `json:"level"`
	Stage    Stage  `json:"stage"`
	Levels   int    `json:"levels"`
	Finished bool   `json:"finished"`
	Done     int    `json:"stages_done"`
	Color    string `json:"color"`
}

type Tracker struct {
	mu     sync.Mutex
	team   Team
	levels int
	done   int // stages completed, counted across levels
}

func NewTracker(team Team, levels int) *Tracker {
	if levels <= 0 {
		levels = DefaultLevels
	}
	return &Tracker{team: team, levels: levels}
}

func (t *Tracker) position(level int, stage Stage) (int, error) {
	i := stageIndex(stage)
	if i < 0 {
		return 0, fmt.Errorf("unknown stage %q", stage)
	}
	if level < 0 || level >= t.levels {
		return 0, fmt.Errorf("%w: level %d outside 0..%d", ErrLocked, level, t.levels-1)
	}
	return level*len(Stages) + i, nil
}

// Unlocked reports whether stage of level is the next one to play or
// already done.
func (t *Tracker) Unlocked(level int, stage Stage) bool {
	pos, err := t.position(level, stage)
	if err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return pos <= t.done
}

// Complete marks a stage done. Completing an already finished stage is a
// no-op; skipping ahead returns ErrLocked.
func (t *Tracker) Complete(level int, stage Stage) error {
	pos, err := t.position(level, stage)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case pos < t.done:
		return nil
	case pos > t.done:
		next := Stages[t.done%len(Stages)]
		return fmt.Errorf("%w: %s of level %d comes after %s of level %d",
			ErrLocked, stage, level, next, t.done/len(Stages))
	}
	t.done++
	return nil
}

func (t *Tracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := Progress{
		Team:   t.team,
		Levels: t.levels,
		Done:   t.done,
		Color:  t.team.Color(),
	}
	if t.done >= t.levels*len(Stages) {
		p.Finished = true
		p.Level = t.levels - 1
		p.Stage = Challenge
		return p
	}
	p.Level = t.done / len(Stages)
	p.Stage = Stages[t.done%len(Stages)]
	return p
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	t.done = 0
	t.mu.Unlock()
}
