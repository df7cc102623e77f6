package signal

import (
	"context"
	"log/slog"
	"time"
)

const DefaultPollInterval = 10 * time.Millisecond

// Acquirer moves readings from a Source into a Buffer on its own goroutine.
// It is the only writer of the buffer while it runs.
type Acquirer struct {
	Source       Source
	Buffer       *Buffer
	PollInterval time.Duration
	// OnSample is called once for every stored sample, on the acquirer goroutine.
	OnSample func(Sample)
	// OnConnection is called when the source's connected status flips.
	OnConnection func(connected bool)
	Logger       *slog.Logger
	Now          func() time.Time
}

// Run polls until ctx is cancelled. Timestamps are seconds since Run started.
// Writes made after the buffer was reset are discarded.
func (a *Acquirer) Run(ctx context.Context) {
	interval := a.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	now := a.Now
	if now == nil {
		now = time.Now
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gen := a.Buffer.Generation()
	start := now()
	connected := a.Source.Connected()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c := a.Source.Connected(); c != connected {
			connected = c
			if c {
				logger.Info("signal source connected")
			} else {
				logger.Warn("signal source disconnected")
			}
			if a.OnConnection != nil {
				a.OnConnection(c)
			}
		}

		for {
			if ctx.Err() != nil {
				return
			}
			v, ok := a.Source.Read()
			if !ok {
				break
			}
			s, stored := a.Buffer.AppendGen(gen, now().Sub(start).Seconds(), v)
			if !stored {
				return
			}
			if a.OnSample != nil {
				a.OnSample(s)
			}
		}
	}
}
