package server

import (
	"fmt"
	"net/http"
	"strconv"

	"mandalaquest/internal/analytics"
	"mandalaquest/internal/score"
)

type resultResponse struct {
	score.Result
	Badges []analytics.Badge `json:"badges"`
}

// handleResult returns the final summary of the team's last attempt.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	res, ok := in.Session.Result()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("team %s has no completed attempt", in.Code))
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res, Badges: analytics.EvaluateResultBadges(res)})
}

func (s *Server) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	in := s.getTeam(w, r)
	if in == nil {
		return
	}
	stats, ok := s.Teams.Board().Team(string(in.Team))
	if !ok {
		stats = analytics.TeamStats{Team: string(in.Team)}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("cat")
	if category == "" {
		category = "percent"
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.Teams.Board().Leaderboard(category, limit)
	if err != nil {
		s.log().Warn("leaderboard", "category", category, "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
