// Package challenge runs one biofeedback challenge: a calibration window that
// fixes the baseline, then a scored window against a target trajectory.
package challenge

import (
	"errors"

	"mandalaquest/internal/score"
	"mandalaquest/internal/target"
)

// ErrReentrant is returned when a listener calls back into the machine.
var ErrReentrant = errors.New("challenge machine re-entered from a listener")

type Phase string

const (
	PhaseIdle        = Phase("idle")
	PhaseCalibrating = Phase("calibrating")
	PhaseChallenge   = Phase("challenge")
	PhaseComplete    = Phase("complete")
)

// State is the machine's view of the attempt. It is a value copy.
type State struct {
	Phase                Phase        `json:"phase"`
	Variant              Variant      `json:"variant"`
	Elapsed              float64      `json:"elapsed"`
	Baseline             float64      `json:"baseline"`
	HasBaseline          bool         `json:"has_baseline"`
	CurrentValue         float64      `json:"current_value"`
	Target               float64      `json:"target"`
	TargetPhase          target.Phase `json:"target_phase"`
	Passing              bool         `json:"passing"`
	Score                int          `json:"score"`
	TimeInTarget         float64      `json:"time_in_target"`
	TimeBelowTarget      float64      `json:"time_below_target"`
	MaxConsecutiveTarget float64      `json:"max_consecutive_target"`
	CurrentConsecutive   float64      `json:"current_consecutive_target"`
	CalibrationSamples   int          `json:"calibration_samples"`
	ChallengeStartTime   float64      `json:"challenge_start_time"`
	MaxDuration          float64      `json:"max_duration"`
}

type PhaseChange struct {
	From    Phase
	To      Phase
	Elapsed float64
}

// Machine is not safe for concurrent use; its owner serializes calls.
type Machine struct {
	profile Profile

	phase      Phase
	started    bool // origin has been set by the first sample
	origin     float64
	elapsed    float64
	scoredTo   float64 // time already accounted for by the tally
	current    float64
	passing    bool
	calSum     float64
	calCount   int
	baseline   float64
	hasBase    bool
	tally      score.Tally
	result     score.Result
	hasResult  bool
	busy       bool
	pending    []func()
	onPhase    []func(PhaseChange)
	onComplete []func(score.Result)
}

// New returns an idle machine. The profile must already be valid.
func New(p Profile) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Machine{profile: p, phase: PhaseIdle}, nil
}

func (m *Machine) Profile() Profile { return m.profile }

func (m *Machine) Phase() Phase { return m.phase }

// OnPhaseChange registers fn for every phase transition.
func (m *Machine) OnPhaseChange(fn func(PhaseChange)) {
	m.onPhase = append(m.onPhase, fn)
}

// OnComplete registers fn for the completion of an attempt. It fires once
// per attempt, after the result is fixed.
func (m *Machine) OnComplete(fn func(score.Result)) {
	m.onComplete = append(m.onComplete, fn)
}

// Start begins a new attempt from any phase. The clock starts with the next
// observed sample.
func (m *Machine) Start() error {
	return m.mutate(func() {
		m.clear()
		m.setPhase(PhaseCalibrating)
	})
}

// Reset discards the attempt and returns to idle.
func (m *Machine) Reset() error {
	return m.mutate(func() {
		m.clear()
		m.setPhase(PhaseIdle)
	})
}

// Observe feeds one reading taken at t seconds on the caller's clock.
func (m *Machine) Observe(t, value float64) error {
	return m.mutate(func() { m.observe(t, value) })
}

func (m *Machine) mutate(fn func()) error {
	if m.busy {
		return ErrReentrant
	}
	m.busy = true
	defer func() { m.busy = false }()

	fn()
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		next()
	}
	return nil
}

func (m *Machine) clear() {
	m.started = false
	m.origin = 0
	m.elapsed = 0
	m.scoredTo = 0
	m.current = 0
	m.passing = false
	m.calSum = 0
	m.calCount = 0
	m.baseline = 0
	m.hasBase = false
	m.tally = score.Tally{}
	m.result = score.Result{}
	m.hasResult = false
}

func (m *Machine) setPhase(to Phase) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	change := PhaseChange{From: from, To: to, Elapsed: m.elapsed}
	for _, fn := range m.onPhase {
		m.pending = append(m.pending, func() { fn(change) })
	}
}

func (m *Machine) observe(t, value float64) {
	switch m.phase {
	case PhaseIdle, PhaseComplete:
		return
	}

	if !m.started {
		m.started = true
		m.origin = t
	}
	// elapsed only moves forward, whatever order timestamps arrive in
	m.elapsed = max(m.elapsed, t-m.origin)
	m.current = value
	p := m.profile

	switch m.phase {
	case PhaseCalibrating:
		if m.elapsed >= p.CalibrationStart && m.elapsed <= p.CalibrationEnd {
			m.calSum += value
			m.calCount++
		}
		if m.elapsed < p.CalibrationEnd {
			return
		}
		m.fixBaseline()
		m.scoredTo = p.ChallengeStart()
		m.setPhase(PhaseChallenge)
		// a sample landing past the challenge start after a gap is scored
		// for the time since the start, and may end the challenge at once
		if m.elapsed > p.ChallengeStart() {
			m.score(value)
		}

	case PhaseChallenge:
		if m.elapsed < p.ChallengeStart() {
			return
		}
		m.score(value)
	}
}

func (m *Machine) score(value float64) {
	p := m.profile
	tgt := target.At(m.elapsed, m.baseline, p.Target)
	m.passing = score.Evaluate(value, tgt, p.Rule(m.elapsed))
	m.tally.Record(m.passing, m.sampleDelta(), p.ScoreIncrement)

	if m.elapsed >= p.MaxDuration() {
		m.complete()
	}
}

func (m *Machine) fixBaseline() {
	if m.calCount > 0 {
		m.baseline = m.calSum / float64(m.calCount)
	} else {
		m.baseline = m.profile.DefaultBaseline
	}
	m.hasBase = true
}

// sampleDelta is the time the current sample accounts for. Measured deltas
// are clipped to the scored window so the tally sums to its length.
func (m *Machine) sampleDelta() float64 {
	if d := m.profile.SampleDelta; d > 0 {
		return d
	}
	to := min(m.elapsed, m.profile.MaxDuration())
	dt := max(0, to-m.scoredTo)
	m.scoredTo = max(m.scoredTo, to)
	return dt
}

func (m *Machine) complete() {
	m.tally.Close()
	p := m.profile
	res := score.NewResult(m.tally, m.baseline, p.MaxDuration()-p.ChallengeStart())
	res.Variant = string(p.Variant)
	m.result = res
	m.hasResult = true
	m.setPhase(PhaseComplete)
	for _, fn := range m.onComplete {
		m.pending = append(m.pending, func() { fn(res) })
	}
}

// Result returns the final summary once the attempt is complete.
func (m *Machine) Result() (score.Result, bool) {
	return m.result, m.hasResult
}

func (m *Machine) State() State {
	p := m.profile
	s := State{
		Phase:                m.phase,
		Variant:              p.Variant,
		Elapsed:              m.elapsed,
		Baseline:             m.baseline,
		HasBaseline:          m.hasBase,
		CurrentValue:         m.current,
		Passing:              m.passing,
		Score:                m.tally.Score,
		TimeInTarget:         m.tally.TimeInTarget,
		TimeBelowTarget:      m.tally.TimeBelowTarget,
		MaxConsecutiveTarget: m.tally.MaxSeconds,
		CurrentConsecutive:   m.tally.CurrentSeconds,
		CalibrationSamples:   m.calCount,
		ChallengeStartTime:   p.ChallengeStart(),
		MaxDuration:          p.MaxDuration(),
	}
	if m.hasBase {
		s.Target = target.At(m.elapsed, m.baseline, p.Target)
		s.TargetPhase = target.PhaseAt(m.elapsed, p.Target)
	}
	return s
}
