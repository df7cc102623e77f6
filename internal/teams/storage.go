package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mandalaquest/internal/analytics"
	"mandalaquest/internal/broadcast"
	"mandalaquest/internal/events"
	"mandalaquest/internal/metrics"
	"mandalaquest/internal/progression"
	"mandalaquest/internal/session"
	"mandalaquest/internal/wshub"
)

const staleTTL = 1 * time.Hour

type Config struct {
	Session session.Config
	Sources session.SourceFactory
	Tick    time.Duration
	Levels  int
}

type Store struct {
	mu        sync.Mutex
	instances map[string]*Instance
	cfg       Config
	board     *analytics.Board
	metrics   *metrics.Metrics
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewStore(cfg Config, board *analytics.Board, m *metrics.Metrics, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if board == nil {
		board = analytics.NewBoard()
	}
	s := &Store{
		instances: make(map[string]*Instance),
		cfg:       cfg,
		board:     board,
		metrics:   m,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	go s.sweepStale()
	return s
}

func (s *Store) Board() *analytics.Board { return s.board }

func (s *Store) Create(team progression.Team) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Try up to 10 times to generate a unique code
	for range 10 {
		code, err := GenerateCode(team)
		if err != nil {
			return nil, fmt.Errorf("generating team code: %w", err)
		}
		if _, exists := s.instances[code]; exists {
			continue
		}
		in := s.start(code, team)
		s.instances[code] = in
		return in, nil
	}
	return nil, fmt.Errorf("failed to generate unique team code after 10 attempts")
}

func (s *Store) start(code string, team progression.Team) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	logger := s.logger.With("team", string(team), "code", code)

	bus := events.NewBus()
	b := broadcast.NewBroadcaster(ctx, bus)
	b.Logger = logger
	hub := wshub.NewHub()
	hub.Logger = logger

	sess := session.New(string(team), s.cfg.Session, s.cfg.Sources, bus)
	sess.Metrics = s.metrics
	sess.Logger = logger
	tracker := progression.NewTracker(team, s.cfg.Levels)

	sess.OnComplete(func(ev events.CompletionEvent) {
		rep := s.board.Record(ev)
		if err := tracker.Complete(ev.Level, progression.Challenge); err != nil {
			logger.Warn("challenge completed out of order", "level", ev.Level, "error", err)
		}
		b.BroadcastJSON("report", rep)
	})

	in := &Instance{
		Code:        code,
		Team:        team,
		Session:     sess,
		Progress:    tracker,
		Broadcaster: b,
		Hub:         hub,
		CreatedAt:   time.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	s.metrics.SessionStarted()
	go func() {
		defer close(in.done)
		defer s.metrics.SessionStopped(string(team))
		sess.Run(ctx, s.cfg.Tick, func(snap session.Snapshot) {
			data, err := json.Marshal(snap)
			if err != nil {
				logger.Error("marshal snapshot", "error", err)
				return
			}
			b.Broadcast("state", string(data))
			hub.Broadcast(wshub.ServerMessage{Type: "state", Data: data})
		})
	}()
	logger.Info("team instance created")
	return in
}

func (s *Store) Get(code string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[code]
}

func (s *Store) Delete(code string) {
	s.mu.Lock()
	in, ok := s.instances[code]
	delete(s.instances, code)
	s.mu.Unlock()
	if ok {
		in.Stop()
	}
}

func (s *Store) List() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Instance, 0, len(s.instances))
	for _, in := range s.instances {
		list = append(list, in)
	}
	return list
}

// Close stops the sweeper and every instance.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	all := s.instances
	s.instances = make(map[string]*Instance)
	s.mu.Unlock()
	for _, in := range all {
		in.Stop()
	}
}

func (s *Store) sweepStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.removeStale(now)
		}
	}
}

// removeStale drops idle instances older than staleTTL.
func (s *Store) removeStale(now time.Time) {
	var stale []*Instance
	s.mu.Lock()
	for code, in := range s.instances {
		if now.Sub(in.CreatedAt) > staleTTL && !in.Busy() {
			stale = append(stale, in)
			delete(s.instances, code)
		}
	}
	s.mu.Unlock()
	for _, in := range stale {
		s.logger.Info("removing stale team instance", "code", in.Code)
		in.Stop()
	}
}
