package signal

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const DefaultSyntheticRate = 10 // Hz, matches the sensor board

// Synthetic produces a heartbeat-like waveform for demos and tests without
// hardware. The simulated heart rate drifts slowly between 40 and 80 bpm.
type Synthetic struct {
	mu     sync.Mutex
	rand   *rand.Rand
	now    func() time.Time
	start  time.Time
	period time.Duration
	next   time.Time
}

func NewSynthetic(rateHz int) *Synthetic {
	return NewSyntheticWith(rand.New(rand.NewSource(time.Now().UnixNano())), time.Now, rateHz)
}

func NewSyntheticWith(r *rand.Rand, now func() time.Time, rateHz int) *Synthetic {
	if rateHz <= 0 {
		rateHz = DefaultSyntheticRate
	}
	start := now()
	return &Synthetic{
		rand:   r,
		now:    now,
		start:  start,
		period: time.Second / time.Duration(rateHz),
		next:   start,
	}
}

// Value returns the waveform at t seconds with fresh noise.
func (s *Synthetic) Value(t float64) int {
	heartRate := 60 + 20*math.Sin(t/10)
	period := 60 / heartRate
	phase := math.Mod(t, period) / period
	pulse := math.Sin(phase * 2 * math.Pi)

	s.mu.Lock()
	noise := s.rand.Float64()*0.2 - 0.1
	s.mu.Unlock()

	return int(600 + 100*pulse + 50*noise)
}

// Read emits at most one value per sample period.
func (s *Synthetic) Read() (int, bool) {
	now := s.now()
	s.mu.Lock()
	if now.Before(s.next) {
		s.mu.Unlock()
		return 0, false
	}
	s.next = s.next.Add(s.period)
	if s.next.Before(now) {
		// fell behind; do not burst to catch up
		s.next = now.Add(s.period)
	}
	s.mu.Unlock()
	return s.Value(now.Sub(s.start).Seconds()), true
}

func (s *Synthetic) Connected() bool { return true }

func (s *Synthetic) Close() error { return nil }
