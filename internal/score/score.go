package score

import "fmt"

// Rule is the direction a reading must be on relative to the target to pass.
type Rule string

const (
	AtLeast = Rule("at_least")
	AtMost  = Rule("at_most")
)

func (r Rule) Valid() bool {
	return r == AtLeast || r == AtMost
}

func ParseRule(s string) (Rule, error) {
	r := Rule(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown pass rule %q", s)
	}
	return r, nil
}

// Evaluate reports whether current passes target under rule.
func Evaluate(current, target float64, rule Rule) bool {
	if rule == AtMost {
		return current <= target
	}
	return current >= target
}

// Tally accumulates per-sample outcomes during the scored part of a challenge.
type Tally struct {
	Score           int
	TimeInTarget    float64
	TimeBelowTarget float64
	CurrentStreak   int // samples
	MaxStreak       int // samples
	CurrentSeconds  float64
	MaxSeconds      float64
}

// Record adds one evaluated sample that accounts for dt seconds.
func (t *Tally) Record(passed bool, dt float64, increment int) {
	if dt < 0 {
		dt = 0
	}
	if passed {
		t.Score += increment
		t.TimeInTarget += dt
		t.CurrentStreak++
		t.CurrentSeconds += dt
		return
	}
	t.TimeBelowTarget += dt
	t.Close()
	t.CurrentStreak = 0
	t.CurrentSeconds = 0
}

// Close folds the running streak into the maximum.
func (t *Tally) Close() {
	if t.CurrentStreak > t.MaxStreak {
		t.MaxStreak = t.CurrentStreak
	}
	if t.CurrentSeconds > t.MaxSeconds {
		t.MaxSeconds = t.CurrentSeconds
	}
}

// Result is the immutable end-of-challenge summary.
type Result struct {
	AttemptID            string  `json:"attempt_id,omitempty"`
	Variant              string  `json:"variant"`
	Score                int     `json:"score"`
	TimeInTarget         float64 `json:"time_in_target"`
	TimeBelowTarget      float64 `json:"time_below_target"`
	PercentInTarget      float64 `json:"percent_in_target"`
	MaxConsecutiveTarget float64 `json:"max_consecutive_target"`
	MaxStreakSamples     int     `json:"max_streak_samples"`
	Baseline             float64 `json:"baseline"`
}

// NewResult summarizes a closed tally. window is the length of the scored
// part of the challenge in seconds.
func NewResult(t Tally, baseline, window float64) Result {
	return Result{
		Score:                t.Score,
		TimeInTarget:         t.TimeInTarget,
		TimeBelowTarget:      t.TimeBelowTarget,
		PercentInTarget:      PercentInTarget(t.TimeInTarget, window),
		MaxConsecutiveTarget: t.MaxSeconds,
		MaxStreakSamples:     t.MaxStreak,
		Baseline:             baseline,
	}
}

func PercentInTarget(timeInTarget, window float64) float64 {
	if window <= 0 {
		return 0
	}
	return timeInTarget / window * 100
}
