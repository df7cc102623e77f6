package session

import (
	"context"
	"time"

	"mandalaquest/internal/signal"
)

// lineCounters is implemented by sources that drop bad input.
type lineCounters interface {
	Malformed() uint64
	Dropped() uint64
}

func (s *Session) startWorkerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go s.acquire(ctx, done)
}

// stopWorkerLocked cancels the worker and waits for it. The worker never
// takes s.mu, so waiting here cannot deadlock.
func (s *Session) stopWorkerLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.connected.Store(false)
}

func (s *Session) acquire(ctx context.Context, done chan struct{}) {
	defer close(done)

	src := s.connect(ctx)
	if src == nil {
		return
	}
	defer func() {
		if c, ok := src.(lineCounters); ok {
			s.Metrics.SamplesDropped(s.cfg.SourceName, c.Malformed()+c.Dropped())
		}
		if err := src.Close(); err != nil {
			s.Logger.Warn("closing signal source", "team", s.team, "error", err)
		}
	}()

	s.connected.Store(src.Connected())
	a := &signal.Acquirer{
		Source:       src,
		Buffer:       s.buffer,
		PollInterval: s.cfg.PollInterval,
		OnSample: func(signal.Sample) {
			s.Metrics.SampleAccepted(s.cfg.SourceName)
		},
		OnConnection: func(c bool) {
			s.connected.Store(c)
		},
		Logger: s.Logger.With("team", s.team),
	}
	a.Run(ctx)
}

// connect retries the factory until it succeeds or ctx is done.
func (s *Session) connect(ctx context.Context) signal.Source {
	for {
		src, err := s.sources(ctx)
		if err == nil {
			return src
		}
		s.connected.Store(false)
		s.Logger.Warn("opening signal source", "team", s.team, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}
