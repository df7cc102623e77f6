package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"mandalaquest/internal/events"
)

const streakPercent = 50.0

// Board keeps per-team results for the lifetime of the process.
type Board struct {
	mu    sync.Mutex
	stats map[string]*TeamStats
	last  map[string]Report
	now   func() time.Time
}

func NewBoard() *Board {
	return &Board{
		stats: make(map[string]*TeamStats),
		last:  make(map[string]Report),
		now:   time.Now,
	}
}

// Record stores a completion and returns its report.
func (b *Board) Record(ev events.CompletionEvent) Report {
	rep := Report{
		Team:       ev.Team,
		Level:      ev.Level,
		Result:     ev.Result,
		Badges:     EvaluateResultBadges(ev.Result),
		RecordedAt: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.stats[ev.Team]
	if !ok {
		st = &TeamStats{Team: ev.Team}
		b.stats[ev.Team] = st
	}
	st.Completed++
	st.BestPercent = max(st.BestPercent, ev.Result.PercentInTarget)
	st.BestScore = max(st.BestScore, ev.Result.Score)
	st.BestStreak = max(st.BestStreak, ev.Result.MaxConsecutiveTarget)
	if ev.Result.PercentInTarget >= streakPercent {
		st.Streak++
	} else {
		st.Streak = 0
	}
	st.Badges = EvaluateTeamBadges(*st)
	b.last[ev.Team] = rep
	return rep
}

func (b *Board) Last(team string) (Report, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rep, ok := b.last[team]
	return rep, ok
}

func (b *Board) Team(team string) (TeamStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.stats[team]
	if !ok {
		return TeamStats{}, false
	}
	return *st, true
}

// Leaderboard ranks teams by "percent", "score" or "streak".
func (b *Board) Leaderboard(category string, limit int) ([]LeaderboardEntry, error) {
	var value func(*TeamStats) float64
	switch category {
	case "percent":
		value = func(s *TeamStats) float64 { return s.BestPercent }
	case "score":
		value = func(s *TeamStats) float64 { return float64(s.BestScore) }
	case "streak":
		value = func(s *TeamStats) float64 { return s.BestStreak }
	default:
		return nil, fmt.Errorf("unknown leaderboard category: %s", category)
	}

	b.mu.Lock()
	entries := make([]LeaderboardEntry, 0, len(b.stats))
	for _, st := range b.stats {
		entries = append(entries, LeaderboardEntry{Team: st.Team, Value: value(st)})
	}
	b.mu.Unlock()

	slices.SortFunc(entries, func(a, c LeaderboardEntry) int {
		if n := cmp.Compare(c.Value, a.Value); n != 0 {
			return n
		}
		return cmp.Compare(a.Team, c.Team)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
