package analytics

import (
	"testing"

	"mandalaquest/internal/score"
)

func TestEvaluateResultBadges_FirstBreath(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{})
	if !hasBadge(badges, BadgeFirstBreath) {
		t.Error("every completion should earn First Breath")
	}
	if len(badges) != 1 {
		t.Errorf("empty result should earn only First Breath, got %d badges", len(badges))
	}
}

func TestEvaluateResultBadges_SteadyFlame(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{PercentInTarget: 80})
	if !hasBadge(badges, BadgeSteadyFlame) {
		t.Error("should earn Steady Flame at 80%")
	}
}

func TestEvaluateResultBadges_NoSteadyFlame(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{PercentInTarget: 79.9})
	if hasBadge(badges, BadgeSteadyFlame) {
		t.Error("should not earn Steady Flame at 79.9%")
	}
}

func TestEvaluateResultBadges_Unbroken(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{MaxConsecutiveTarget: 10})
	if !hasBadge(badges, BadgeUnbroken) {
		t.Error("should earn Unbroken with a 10 s streak")
	}
}

func TestEvaluateResultBadges_NoUnbroken(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{MaxConsecutiveTarget: 9.9})
	if hasBadge(badges, BadgeUnbroken) {
		t.Error("should not earn Unbroken with a 9.9 s streak")
	}
}

func TestEvaluateResultBadges_Centurion(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{Score: 100})
	if !hasBadge(badges, BadgeCenturion) {
		t.Error("should earn Centurion with 100 points")
	}
}

func TestEvaluateResultBadges_NoCenturion(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{Score: 99})
	if hasBadge(badges, BadgeCenturion) {
		t.Error("should not earn Centurion with 99 points")
	}
}

func TestEvaluateResultBadges_Perfectionist(t *testing.T) {
	badges := EvaluateResultBadges(score.Result{PercentInTarget: 99.5})
	if !hasBadge(badges, BadgePerfectionist) {
		t.Error("should earn Perfectionist at 99.5%")
	}
}

func TestEvaluateResultBadges_MultipleBadges(t *testing.T) {
	res := score.Result{
		Score:                3000,
		PercentInTarget:      100,
		MaxConsecutiveTarget: 30,
	}
	badges := EvaluateResultBadges(res)
	// Should earn: FirstBreath, SteadyFlame, Unbroken, Centurion, Perfectionist
	if len(badges) != 5 {
		t.Errorf("should earn 5 badges, got %d", len(badges))
	}
}

func TestEvaluateTeamBadges_Unstoppable(t *testing.T) {
	badges := EvaluateTeamBadges(TeamStats{Streak: 3})
	if !hasBadge(badges, BadgeUnstoppable) {
		t.Error("should earn Unstoppable with 3 good attempts in a row")
	}
}

func TestEvaluateTeamBadges_NoUnstoppable(t *testing.T) {
	badges := EvaluateTeamBadges(TeamStats{Streak: 2})
	if hasBadge(badges, BadgeUnstoppable) {
		t.Error("should not earn Unstoppable with 2 good attempts in a row")
	}
}

func TestEvaluateTeamBadges_Veteran(t *testing.T) {
	badges := EvaluateTeamBadges(TeamStats{Completed: 10})
	if !hasBadge(badges, BadgeVeteran) {
		t.Error("should earn Veteran with 10 completions")
	}
}

func hasBadge(badges []Badge, id BadgeID) bool {
	for _, b := range badges {
		if b.ID == id {
			return true
		}
	}
	return false
}
