package challenge

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"mandalaquest/internal/score"
	"mandalaquest/internal/target"
)

var ErrUnknownVariant = errors.New("unknown challenge variant")

// Variant is the visual theme of a challenge. Each one maps onto a Profile;
// the machine itself never branches on it.
type Variant string

const (
	Fire      = Variant("fire")
	Wave      = Variant("wave")
	Lightning = Variant("lightning")
)

var Variants = []Variant{Fire, Wave, Lightning}

func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Variants {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Metric selects what is compared with the target.
type Metric string

const (
	// MetricSignal compares each raw sensor reading.
	MetricSignal = Metric("signal")
	// MetricHeartRate compares the smoothed heart-rate estimate.
	MetricHeartRate = Metric("heart_rate")
)

const DefaultBaseline = 500.0 // middle of the sensor's analog range

// Profile parameterizes one challenge variant.
type Profile struct {
	Variant          Variant       `yaml:"variant" json:"variant"`
	Target           target.Config `yaml:"target" json:"target"`
	CalibrationStart float64       `yaml:"calibration_start" json:"calibration_start"`
	CalibrationEnd   float64       `yaml:"calibration_end" json:"calibration_end"`
	Metric           Metric        `yaml:"metric" json:"metric"`
	RisingRule       score.Rule    `yaml:"rising_rule" json:"rising_rule"`
	FallingRule      score.Rule    `yaml:"falling_rule" json:"falling_rule"`
	ScoreIncrement   int           `yaml:"score_increment" json:"score_increment"`
	// SampleDelta is the time each scored sample accounts for. Zero means the
	// measured gap to the previous sample.
	SampleDelta     float64 `yaml:"sample_delta" json:"sample_delta"`
	DefaultBaseline float64 `yaml:"default_baseline" json:"default_baseline"`
}

// ChallengeStart is where scoring begins.
func (p Profile) ChallengeStart() float64 { return p.Target.Start }

// MaxDuration is where the challenge completes.
func (p Profile) MaxDuration() float64 { return p.Target.End }

// Rule returns the pass rule for the trajectory segment t falls in.
func (p Profile) Rule(t float64) score.Rule {
	if target.PhaseAt(t, p.Target) == target.Falling {
		return p.FallingRule
	}
	return p.RisingRule
}

func (p Profile) Validate() error {
	if _, err := ParseVariant(string(p.Variant)); err != nil {
		return err
	}
	if err := p.Target.Validate(); err != nil {
		return fmt.Errorf("%s: %w", p.Variant, err)
	}
	if p.CalibrationStart < 0 || p.CalibrationEnd <= p.CalibrationStart {
		return fmt.Errorf("%w: %s calibration window [%.2f, %.2f] is empty",
			target.ErrInvalidConfig, p.Variant, p.CalibrationStart, p.CalibrationEnd)
	}
	if p.CalibrationEnd > p.Target.Start {
		return fmt.Errorf("%w: %s calibration ends at %.2fs after the challenge starts at %.2fs",
			target.ErrInvalidConfig, p.Variant, p.CalibrationEnd, p.Target.Start)
	}
	if p.Metric != MetricSignal && p.Metric != MetricHeartRate {
		return fmt.Errorf("%w: %s metric %q", target.ErrInvalidConfig, p.Variant, p.Metric)
	}
	if !p.RisingRule.Valid() || !p.FallingRule.Valid() {
		return fmt.Errorf("%w: %s pass rules %q/%q", target.ErrInvalidConfig, p.Variant, p.RisingRule, p.FallingRule)
	}
	if p.SampleDelta < 0 {
		return fmt.Errorf("%w: %s sample delta %.3f is negative", target.ErrInvalidConfig, p.Variant, p.SampleDelta)
	}
	return nil
}

func baseProfile(v Variant, t target.Config) Profile {
	return Profile{
		Variant:          v,
		Target:           t,
		CalibrationStart: 3,
		CalibrationEnd:   10,
		Metric:           MetricSignal,
		RisingRule:       score.AtLeast,
		FallingRule:      score.AtMost,
		ScoreIncrement:   1,
		DefaultBaseline:  DefaultBaseline,
	}
}

// DefaultProfiles returns the built-in variant table.
func DefaultProfiles() map[Variant]Profile {
	return map[Variant]Profile{
		Fire: baseProfile(Fire, target.Config{
			Kind: target.SingleRamp, Start: 10, End: 40, Delta: 50,
		}),
		Wave: baseProfile(Wave, target.Config{
			Kind: target.TwoPhase, Start: 10, Transition: 40, End: 70, Delta: 50, Secondary: 30,
		}),
		Lightning: baseProfile(Lightning, target.Config{
			Kind: target.TwoPhase, Start: 10, Transition: 25, End: 40, Delta: 40,
		}),
	}
}

// LoadProfiles overlays YAML profile entries on the defaults. Fields left out
// of an entry keep their default value.
//
//	- variant: wave
//	  target: {kind: two_phase, start: 10, transition: 30, end: 50, delta: 40}
func LoadProfiles(r io.Reader) (map[Variant]Profile, error) {
	var raw []yaml.Node
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding profiles: %w", err)
	}

	profiles := DefaultProfiles()
	for i := range raw {
		var head struct {
			Variant string `yaml:"variant"`
		}
		if err := raw[i].Decode(&head); err != nil {
			return nil, fmt.Errorf("decoding profile %d: %w", i, err)
		}
		v, err := ParseVariant(head.Variant)
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		p := profiles[v]
		if err := raw[i].Decode(&p); err != nil {
			return nil, fmt.Errorf("decoding profile %s: %w", v, err)
		}
		p.Variant = v
		if err := p.Validate(); err != nil {
			return nil, err
		}
		profiles[v] = p
	}
	return profiles, nil
}
