package analytics

import "mandalaquest/internal/score"

type BadgeID string

const (
	BadgeSteadyFlame   BadgeID = "steady_flame"
	BadgeUnbroken      BadgeID = "unbroken"
	BadgeCenturion     BadgeID = "centurion"
	BadgePerfectionist BadgeID = "perfectionist"
	BadgeFirstBreath   BadgeID = "first_breath"
	BadgeUnstoppable   BadgeID = "unstoppable"
	BadgeVeteran       BadgeID = "veteran"
)

type Badge struct {
	ID          BadgeID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
}

var AllBadges = map[BadgeID]Badge{
	BadgeSteadyFlame:   {ID: BadgeSteadyFlame, Name: "Steady Flame", Description: "80%+ of the challenge on target", Icon: "🔥"},
	BadgeUnbroken:      {ID: BadgeUnbroken, Name: "Unbroken", Description: "10+ seconds on target without a break", Icon: "⛓️"},
	BadgeCenturion:     {ID: BadgeCenturion, Name: "Centurion", Description: "100+ points in a single challenge", Icon: "💯"},
	BadgePerfectionist: {ID: BadgePerfectionist, Name: "Perfectionist", Description: "99%+ of the challenge on target", Icon: "✨"},
	BadgeFirstBreath:   {ID: BadgeFirstBreath, Name: "First Breath", Description: "Completed a challenge", Icon: "🌬️"},
	BadgeUnstoppable:   {ID: BadgeUnstoppable, Name: "Unstoppable", Description: "3 challenges in a row at 50%+ on target", Icon: "⚡"},
	BadgeVeteran:       {ID: BadgeVeteran, Name: "Veteran", Description: "Completed 10+ challenges", Icon: "🏅"},
}

// EvaluateResultBadges checks which badges a single completed attempt earned.
func EvaluateResultBadges(res score.Result) []Badge {
	earned := []Badge{AllBadges[BadgeFirstBreath]}

	// Steady Flame: 80%+ on target
	if res.PercentInTarget >= 80 {
		earned = append(earned, AllBadges[BadgeSteadyFlame])
	}

	// Unbroken: 10 s streak
	if res.MaxConsecutiveTarget >= 10 {
		earned = append(earned, AllBadges[BadgeUnbroken])
	}

	// Centurion: 100+ points
	if res.Score >= 100 {
		earned = append(earned, AllBadges[BadgeCenturion])
	}

	// Perfectionist: 99%+ on target
	if res.PercentInTarget >= 99 {
		earned = append(earned, AllBadges[BadgePerfectionist])
	}

	return earned
}

// EvaluateTeamBadges checks which badges a team earned across its attempts.
func EvaluateTeamBadges(stats TeamStats) []Badge {
	var earned []Badge

	if stats.Streak >= 3 {
		earned = append(earned, AllBadges[BadgeUnstoppable])
	}

	if stats.Completed >= 10 {
		earned = append(earned, AllBadges[BadgeVeteran])
	}

	return earned
}
