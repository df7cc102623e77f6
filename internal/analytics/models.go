package analytics

import (
	"time"

	"mandalaquest/internal/score"
)

// Report is one completed attempt with the badges it earned.
type Report struct {
	Team       string       `json:"team"`
	Level      int          `json:"level"`
	Result     score.Result `json:"result"`
	Badges     []Badge      `json:"badges"`
	RecordedAt time.Time    `json:"recorded_at"`
}

type TeamStats struct {
	Team        string  `json:"team"`
	Completed   int     `json:"completed"`
	BestPercent float64 `json:"best_percent"`
	BestScore   int     `json:"best_score"`
	BestStreak  float64 `json:"best_streak_seconds"`
	Streak      int     `json:"streak"` // consecutive attempts at 50%+
	Badges      []Badge `json:"badges"`
}

type LeaderboardEntry struct {
	Team  string  `json:"team"`
	Value float64 `json:"value"`
	Rank  int     `json:"rank"`
}
