package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mandalaquest/internal/analytics"
	"mandalaquest/internal/challenge"
	"mandalaquest/internal/config"
	"mandalaquest/internal/metrics"
	"mandalaquest/internal/observability"
	"mandalaquest/internal/session"
	"mandalaquest/internal/teams"
)

func Run() error {
	appCfg := config.Load()
	if err := observability.SetLevel(appCfg.LogLevel); err != nil {
		return err
	}
	logger := observability.NewLogger("server")

	sessCfg, err := SessionConfig(appCfg)
	if err != nil {
		return err
	}
	sources, closeSources, err := NewSourceFactory(appCfg, observability.NewLogger("signal"))
	if err != nil {
		return err
	}
	defer closeSources()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	teamStore := teams.NewStore(teams.Config{
		Session: sessCfg,
		Sources: sources,
		Tick:    time.Duration(appCfg.TickMS) * time.Millisecond,
		Levels:  appCfg.Levels,
	}, analytics.NewBoard(), m, observability.NewLogger("session"))
	defer teamStore.Close()

	srv := &Server{
		Teams:    teamStore,
		Registry: reg,
		Logger:   logger,
	}

	httpSrv := &http.Server{
		Addr:    "0.0.0.0:" + appCfg.Port,
		Handler: srv.Routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("server listening", "url", fmt.Sprintf("http://localhost:%s", appCfg.Port), "source", appCfg.SignalSource)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SessionConfig builds the per-team session settings, loading profile
// overrides when PROFILES_FILE is set.
func SessionConfig(appCfg config.Config) (session.Config, error) {
	cfg := session.DefaultConfig()
	cfg.Countdown = time.Duration(appCfg.CountdownSecs) * time.Second
	cfg.BufferCapacity = appCfg.BufferCapacity
	cfg.SourceName = appCfg.SignalSource
	if appCfg.ProfilesFile == "" {
		return cfg, nil
	}
	f, err := os.Open(appCfg.ProfilesFile)
	if err != nil {
		return cfg, fmt.Errorf("opening profiles: %w", err)
	}
	defer f.Close()
	profiles, err := challenge.LoadProfiles(f)
	if err != nil {
		return cfg, fmt.Errorf("loading %s: %w", appCfg.ProfilesFile, err)
	}
	cfg.Profiles = profiles
	return cfg, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /teams", s.handleCreateTeam)
	mux.HandleFunc("DELETE /teams/{code}", s.handleDeleteTeam)
	mux.HandleFunc("POST /teams/{code}/challenge", s.handleChallenge)
	mux.HandleFunc("POST /teams/{code}/stages", s.handleStage)
	mux.HandleFunc("POST /teams/{code}/decoded", s.handleDecoded)
	mux.HandleFunc("POST /teams/{code}/start", s.handleStart)
	mux.HandleFunc("POST /teams/{code}/reset", s.handleReset)
	mux.HandleFunc("GET /teams/{code}/state", s.handleState)
	mux.HandleFunc("GET /teams/{code}/progress", s.handleProgress)
	mux.HandleFunc("GET /teams/{code}/result", s.handleResult)
	mux.HandleFunc("GET /teams/{code}/stats", s.handleTeamStats)
	mux.HandleFunc("GET /teams/{code}/events", s.handleEvents)
	mux.HandleFunc("GET /teams/{code}/ws", s.handleWS)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry}))
	}
	return mux
}

func logOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
