// Package heartrate estimates heart rate from a raw PPG window by counting
// peaks above an adaptive threshold.
//
// The peak counter is intentionally simple. It is kept as-is because
// challenge difficulty has been tuned against it.
package heartrate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"mandalaquest/internal/signal"
)

const (
	DefaultWindow      = 3.0 // seconds
	DefaultThresholdK  = 0.3
	DefaultFallback    = 70.0
	DefaultHistorySize = 30
)

type Config struct {
	Window      float64 // seconds of signal used per estimate
	ThresholdK  float64 // peaks must exceed mean + K*stddev
	Fallback    float64 // returned while there is not enough data
	HistorySize int     // raw estimates kept for smoothing
}

func DefaultConfig() Config {
	return Config{
		Window:      DefaultWindow,
		ThresholdK:  DefaultThresholdK,
		Fallback:    DefaultFallback,
		HistorySize: DefaultHistorySize,
	}
}

type Estimator struct {
	cfg     Config
	history []float64
	latest  float64
}

func NewEstimator(cfg Config) *Estimator {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Estimator{
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
		latest:  cfg.Fallback,
	}
}

// Estimate returns the smoothed heart rate for the most recent window of
// samples. Samples must be oldest first. With less than one window of data
// it returns the fallback and leaves the smoothing history untouched.
func (e *Estimator) Estimate(samples []signal.Sample) float64 {
	if len(samples) == 0 || samples[len(samples)-1].Time-samples[0].Time < e.cfg.Window {
		e.latest = e.cfg.Fallback
		return e.latest
	}

	cutoff := samples[len(samples)-1].Time - e.cfg.Window
	start := len(samples) - 1
	for start > 0 && samples[start-1].Time >= cutoff {
		start--
	}
	window := make([]float64, 0, len(samples)-start)
	for _, s := range samples[start:] {
		window = append(window, float64(s.Value))
	}

	raw := float64(countPeaks(window, e.cfg.ThresholdK)) * (60 / e.cfg.Window)
	e.push(raw)
	e.latest = stat.Mean(e.history, nil)
	return e.latest
}

// countPeaks counts strict local maxima above mean + k*stddev. The first and
// last values have only one neighbor and never count.
func countPeaks(values []float64, k float64) int {
	if len(values) < 3 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	threshold := mean + k*std

	peaks := 0
	for i := 1; i < len(values)-1; i++ {
		v := values[i]
		if v > threshold && v > values[i-1] && v > values[i+1] {
			peaks++
		}
	}
	return peaks
}

func (e *Estimator) push(v float64) {
	if len(e.history) == e.cfg.HistorySize {
		copy(e.history, e.history[1:])
		e.history = e.history[:len(e.history)-1]
	}
	e.history = append(e.history, v)
}

func (e *Estimator) recent(n int) []float64 {
	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	return e.history[len(e.history)-n:]
}

// Trend is the least-squares slope of the last n history entries,
// in bpm per estimate.
func (e *Estimator) Trend(n int) float64 {
	ys := e.recent(n)
	if len(ys) < 2 {
		return 0
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}

// Variability is the population standard deviation of the last n entries.
func (e *Estimator) Variability(n int) float64 {
	ys := e.recent(n)
	if len(ys) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(ys, nil)
	if math.IsNaN(std) {
		return 0
	}
	return std
}

// Latest is the value returned by the last Estimate call.
func (e *Estimator) Latest() float64 {
	return e.latest
}

// History returns a copy of the raw estimates used for smoothing.
func (e *Estimator) History() []float64 {
	return append([]float64(nil), e.history...)
}

func (e *Estimator) Reset() {
	e.history = e.history[:0]
	e.latest = e.cfg.Fallback
}
