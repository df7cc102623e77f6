// Package session drives one team's attempt: a countdown, then the scored
// challenge fed by a background acquisition worker, then the result.
//
// All state changes happen inside Tick or the command methods, under one
// mutex. Events and completion callbacks are delivered after the mutex is
// released.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mandalaquest/internal/challenge"
	"mandalaquest/internal/events"
	"mandalaquest/internal/heartrate"
	"mandalaquest/internal/metrics"
	"mandalaquest/internal/score"
	"mandalaquest/internal/signal"
)

var ErrWrongPhase = errors.New("not allowed in the current session phase")

type Phase string

const (
	PhaseSetup     = Phase("setup")
	PhaseCountdown = Phase("countdown")
	PhaseActive    = Phase("active")
	PhaseComplete  = Phase("complete")
)

const DefaultTick = 100 * time.Millisecond

// SourceFactory opens a fresh signal source for each attempt.
type SourceFactory func(ctx context.Context) (signal.Source, error)

type Config struct {
	Countdown      time.Duration
	BufferCapacity int
	PollInterval   time.Duration
	RetryInterval  time.Duration // between failed source opens
	Estimator      heartrate.Config
	Profiles       map[challenge.Variant]challenge.Profile
	SourceName     string // metrics label
}

func DefaultConfig() Config {
	return Config{
		Countdown:      10 * time.Second,
		BufferCapacity: signal.DefaultCapacity,
		PollInterval:   signal.DefaultPollInterval,
		RetryInterval:  time.Second,
		Estimator:      heartrate.DefaultConfig(),
		Profiles:       challenge.DefaultProfiles(),
		SourceName:     "synthetic",
	}
}

// Snapshot is the read-only view handed to presentation once per tick.
type Snapshot struct {
	challenge.State
	AttemptID     string            `json:"attempt_id"`
	Team          string            `json:"team"`
	OuterPhase    Phase             `json:"outer_phase"`
	GameMode      challenge.Variant `json:"game_mode"`
	Level         int               `json:"level"`
	Countdown     int               `json:"countdown"`
	Connected     bool              `json:"connected"`
	HeartRate     float64           `json:"heart_rate"`
	HRTrend       float64           `json:"hr_trend"`
	HRVariability float64           `json:"hr_variability"`
	ThemeScore    float64           `json:"theme_score"`
	DecodedText   string            `json:"decoded_text"`
}

type Session struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	mu      sync.Mutex
	team    string
	cfg     Config
	sources SourceFactory
	bus     *events.Bus

	phase        Phase
	attemptID    string
	variant      challenge.Variant
	level        int
	decoded      string
	countdownEnd time.Time
	lastTick     time.Time

	buffer    *signal.Buffer
	estimator *heartrate.Estimator
	machine   *challenge.Machine
	lastSeq   uint64
	hrBase    float64
	hrMax     float64
	result    score.Result
	hasResult bool

	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	outbox     []func()
	onComplete []func(events.CompletionEvent)
}

func New(team string, cfg Config, sources SourceFactory, bus *events.Bus) *Session {
	if cfg.Profiles == nil {
		cfg.Profiles = challenge.DefaultProfiles()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &Session{
		Logger:    slog.Default(),
		team:      team,
		cfg:       cfg,
		sources:   sources,
		bus:       bus,
		phase:     PhaseSetup,
		buffer:    signal.NewBuffer(cfg.BufferCapacity),
		estimator: heartrate.NewEstimator(cfg.Estimator),
	}
}

func (s *Session) Team() string { return s.team }

// OnComplete registers fn for every completed attempt.
func (s *Session) OnComplete(fn func(events.CompletionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = append(s.onComplete, fn)
}

// do runs fn under the lock, then delivers whatever fn queued.
func (s *Session) do(fn func() error) error {
	s.mu.Lock()
	err := fn()
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, f := range out {
		f()
	}
	return err
}

// Setup selects the challenge for the next attempt.
func (s *Session) Setup(v challenge.Variant, level int) error {
	return s.do(func() error {
		if s.phase == PhaseCountdown || s.phase == PhaseActive {
			return fmt.Errorf("%w: cannot change the challenge while %s", ErrWrongPhase, s.phase)
		}
		p, ok := s.cfg.Profiles[v]
		if !ok {
			return fmt.Errorf("%w: %q", challenge.ErrUnknownVariant, v)
		}
		m, err := challenge.New(p)
		if err != nil {
			return fmt.Errorf("building %s challenge: %w", v, err)
		}
		m.OnPhaseChange(s.machinePhaseChanged)
		m.OnComplete(s.machineCompleted)

		s.resetAttemptLocked()
		s.machine = m
		s.variant = v
		s.level = level
		s.setPhaseLocked(PhaseSetup)
		s.Logger.Info("challenge selected", "team", s.team, "variant", v, "level", level)
		return nil
	})
}

func (s *Session) SetDecodedText(text string) {
	s.mu.Lock()
	s.decoded = text
	s.mu.Unlock()
}

// Begin starts the countdown for a new attempt.
func (s *Session) Begin(now time.Time) error {
	return s.do(func() error {
		if s.machine == nil {
			return fmt.Errorf("%w: no challenge selected", ErrWrongPhase)
		}
		if s.phase == PhaseCountdown || s.phase == PhaseActive {
			return fmt.Errorf("%w: attempt already %s", ErrWrongPhase, s.phase)
		}
		s.resetAttemptLocked()
		s.attemptID = uuid.NewString()
		s.countdownEnd = now.Add(s.cfg.Countdown)
		s.lastTick = now
		s.setPhaseLocked(PhaseCountdown)
		if s.cfg.Countdown <= 0 {
			s.activateLocked()
		}
		return nil
	})
}

// Tick advances the countdown or feeds the machine with the samples stored
// since the previous tick. It never blocks on the signal source.
func (s *Session) Tick(now time.Time) {
	s.do(func() error {
		s.lastTick = now
		switch s.phase {
		case PhaseCountdown:
			if !now.Before(s.countdownEnd) {
				s.activateLocked()
			}
		case PhaseActive:
			s.advanceLocked()
		}
		return nil
	})
}

// Reset abandons the attempt. The acquisition worker is stopped before any
// state is cleared.
func (s *Session) Reset() {
	s.do(func() error {
		s.resetAttemptLocked()
		s.setPhaseLocked(PhaseSetup)
		return nil
	})
}

// Close stops the acquisition worker, if any.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopWorkerLocked()
	s.mu.Unlock()
}

func (s *Session) Result() (score.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.hasResult
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:       challenge.State{Phase: challenge.PhaseIdle},
		AttemptID:   s.attemptID,
		Team:        s.team,
		OuterPhase:  s.phase,
		GameMode:    s.variant,
		Level:       s.level,
		Connected:   s.connected.Load(),
		HeartRate:   s.estimator.Latest(),
		DecodedText: s.decoded,
	}
	if s.machine != nil {
		snap.State = s.machine.State()
	}
	if s.phase == PhaseCountdown {
		snap.Countdown = int(math.Ceil(s.countdownEnd.Sub(s.lastTick).Seconds()))
	}
	snap.HRTrend = s.estimator.Trend(heartrate.TrendWindow)
	snap.HRVariability = s.estimator.Variability(heartrate.VariabilityWindow)
	switch s.variant {
	case challenge.Fire:
		if snap.HasBaseline {
			snap.ThemeScore = heartrate.IgnitionScore(s.hrMax, s.hrBase)
		}
	case challenge.Wave:
		snap.ThemeScore = heartrate.WaveScore(snap.HRTrend)
	case challenge.Lightning:
		snap.ThemeScore = heartrate.AlchemistScore(snap.HRVariability)
	}
	return snap
}

// Run ticks every interval until ctx is done, handing each snapshot to
// onTick when it is set.
func (s *Session) Run(ctx context.Context, interval time.Duration, onTick func(Snapshot)) {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
			if onTick != nil {
				onTick(s.Snapshot())
			}
		}
	}
}

func (s *Session) setPhaseLocked(to Phase) {
	if s.phase == to {
		return
	}
	s.phase = to
	ev := events.PhaseChangeEvent{Team: s.team, AttemptID: s.attemptID, Scope: events.ScopeSession, Phase: string(to)}
	s.Logger.Info("session phase", "team", s.team, "phase", to, "attempt", s.attemptID)
	s.outbox = append(s.outbox, func() { s.publishPhase(ev) })
}

func (s *Session) publishPhase(ev events.PhaseChangeEvent) {
	if s.bus == nil {
		return
	}
	if !s.bus.PublishPhase(ev) {
		s.Logger.Warn("phase event dropped", "team", s.team, "phase", ev.Phase)
	}
}

func (s *Session) resetAttemptLocked() {
	s.stopWorkerLocked()
	s.buffer.Reset()
	s.estimator.Reset()
	if s.machine != nil {
		if err := s.machine.Reset(); err != nil {
			s.Logger.Error("resetting challenge", "team", s.team, "error", err)
		}
	}
	s.attemptID = ""
	s.countdownEnd = time.Time{}
	s.hrBase, s.hrMax = 0, 0
	s.result = score.Result{}
	s.hasResult = false
}

func (s *Session) activateLocked() {
	s.buffer.Reset()
	s.estimator.Reset()
	s.hrBase, s.hrMax = 0, 0
	if err := s.machine.Start(); err != nil {
		s.Logger.Error("starting challenge", "team", s.team, "error", err)
		return
	}
	s.setPhaseLocked(PhaseActive)
	s.startWorkerLocked()
}

func (s *Session) advanceLocked() {
	samples := s.buffer.Since(s.lastSeq)
	if len(samples) == 0 {
		return
	}
	newest := samples[len(samples)-1]
	s.lastSeq = newest.Seq

	hr := s.estimator.Estimate(s.buffer.Window(2 * s.estimatorWindow()))
	if s.machine.Phase() == challenge.PhaseChallenge {
		s.hrMax = max(s.hrMax, hr)
	}
	s.Metrics.HeartRate(s.team, hr)

	if s.machine.Profile().Metric == challenge.MetricHeartRate {
		if err := s.machine.Observe(newest.Time, hr); err != nil {
			s.Logger.Error("observing heart rate", "team", s.team, "error", err)
		}
	} else {
		for _, smp := range samples {
			if err := s.machine.Observe(smp.Time, float64(smp.Value)); err != nil {
				s.Logger.Error("observing sample", "team", s.team, "error", err)
				break
			}
			if s.machine.Phase() == challenge.PhaseComplete {
				break
			}
		}
	}

	if s.phase == PhaseComplete {
		s.stopWorkerLocked()
	}
}

func (s *Session) estimatorWindow() float64 {
	if w := s.cfg.Estimator.Window; w > 0 {
		return w
	}
	return heartrate.DefaultWindow
}

// machinePhaseChanged and machineCompleted run inside machine calls made
// with s.mu held.
func (s *Session) machinePhaseChanged(c challenge.PhaseChange) {
	if c.To == challenge.PhaseChallenge {
		s.hrBase = s.estimator.Latest()
		s.hrMax = s.hrBase
	}
	ev := events.PhaseChangeEvent{Team: s.team, AttemptID: s.attemptID, Scope: events.ScopeChallenge, Phase: string(c.To)}
	s.outbox = append(s.outbox, func() { s.publishPhase(ev) })
}

func (s *Session) machineCompleted(res score.Result) {
	res.AttemptID = s.attemptID
	s.result = res
	s.hasResult = true
	s.setPhaseLocked(PhaseComplete)
	s.Metrics.Completed(res.Variant, res.PercentInTarget)
	s.Logger.Info("challenge complete", "team", s.team, "attempt", res.AttemptID,
		"score", res.Score, "percent_in_target", res.PercentInTarget)

	ev := events.CompletionEvent{Team: s.team, Level: s.level, Result: res}
	listeners := slices.Clone(s.onComplete)
	s.outbox = append(s.outbox, func() {
		if s.bus != nil && !s.bus.PublishCompletion(ev) {
			s.Logger.Warn("completion event dropped", "team", s.team)
		}
		for _, fn := range listeners {
			fn(ev)
		}
	})
}
