// Package target computes the value a player is asked to reach at a given
// point of a challenge. Everything here is a pure function of its inputs.
package target

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidConfig = errors.New("invalid target config")

type Kind string

const (
	// SingleRamp rises from baseline to baseline+Delta over [Start, End].
	SingleRamp = Kind("single")
	// TwoPhase rises to baseline+Delta at Transition, then falls to
	// baseline-Secondary at End.
	TwoPhase = Kind("two_phase")
)

type Phase int

const (
	Before Phase = iota
	Rising
	Falling
)

func (p Phase) String() string {
	switch p {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "before"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "before":
		*p = Before
	case "rising":
		*p = Rising
	case "falling":
		*p = Falling
	default:
		return fmt.Errorf("unknown target phase %q", b)
	}
	return nil
}

// Config describes a trajectory. Times are seconds since the first sample.
type Config struct {
	Kind       Kind    `yaml:"kind" json:"kind"`
	Start      float64 `yaml:"start" json:"start"`
	Transition float64 `yaml:"transition,omitempty" json:"transition,omitempty"`
	End        float64 `yaml:"end" json:"end"`
	Delta      float64 `yaml:"delta" json:"delta"`
	Secondary  float64 `yaml:"secondary,omitempty" json:"secondary,omitempty"`
}

// Validate rejects trajectories that would divide by zero or run backwards.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"start": c.Start, "transition": c.Transition, "end": c.End,
		"delta": c.Delta, "secondary": c.Secondary,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidConfig, name)
		}
	}
	if c.End <= c.Start {
		return fmt.Errorf("%w: end %.2fs must be after start %.2fs", ErrInvalidConfig, c.End, c.Start)
	}
	if c.Delta < 0 {
		return fmt.Errorf("%w: delta %.2f must not be negative", ErrInvalidConfig, c.Delta)
	}
	switch c.Kind {
	case SingleRamp:
	case TwoPhase:
		if c.Transition <= c.Start || c.Transition >= c.End {
			return fmt.Errorf("%w: transition %.2fs must lie inside (%.2fs, %.2fs)",
				ErrInvalidConfig, c.Transition, c.Start, c.End)
		}
		if c.Secondary < 0 {
			return fmt.Errorf("%w: secondary %.2f must not be negative", ErrInvalidConfig, c.Secondary)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, c.Kind)
	}
	return nil
}

// rampEnd is where the rising segment finishes.
func (c Config) rampEnd() float64 {
	if c.Kind == TwoPhase {
		return c.Transition
	}
	return c.End
}

// At returns the target at t seconds for the given baseline. The config is
// assumed valid.
func At(t, baseline float64, c Config) float64 {
	if t < c.Start {
		return baseline
	}
	peak := baseline + c.Delta
	if c.Kind != TwoPhase || t <= c.Transition {
		return baseline + position(t, c.Start, c.rampEnd())*c.Delta
	}
	floor := baseline - c.Secondary
	return peak + position(t, c.Transition, c.End)*(floor-peak)
}

// PhaseAt tells which segment of the trajectory t falls in.
func PhaseAt(t float64, c Config) Phase {
	switch {
	case t < c.Start:
		return Before
	case c.Kind == TwoPhase && t > c.Transition:
		return Falling
	default:
		return Rising
	}
}

// position is (t-from)/(to-from) clamped to [0, 1].
func position(t, from, to float64) float64 {
	return min(1, max(0, (t-from)/(to-from)))
}
