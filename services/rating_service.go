package services

import (
	"math"

	"ranked-match-system/models"
)

// Rating engine constants. K shrinks with party size: individual performance
// carries less signal in team modes.
const (
	kFactor1v1 = 32
	kFactor2v2 = 24
	kFactor3v3 = 16

	// Accounts below this games-played count converge faster: gains are
	// boosted and losses softened.
	newPlayerGames      = 10
	newPlayerGainBoost  = 1.5
	newPlayerLossShield = 0.5
)

func kFactor(mode models.Mode) float64 {
	switch mode {
	case models.Mode2v2:
		return kFactor2v2
	case models.Mode3v3:
		return kFactor3v3
	default:
		return kFactor1v1
	}
}

// RatingDelta computes the signed rating change for one participant of a
// settled match. result is 1 for a win, 0.5 for a draw, 0 for a loss. The new
// rating is clamped into [MinRating, MaxRating] by truncating the delta, so
// the returned value is always the change actually applied.
func RatingDelta(rating, opponentMean int, result float64, mode models.Mode, gamesPlayed int) int {
	expected := 1 / (1 + math.Pow(10, float64(opponentMean-rating)/400))
	delta := kFactor(mode) * (result - expected)

	if gamesPlayed < newPlayerGames {
		if delta > 0 {
			delta *= newPlayerGainBoost
		} else {
			delta *= newPlayerLossShield
		}
	}

	d := int(math.Round(delta))
	if rating+d > models.MaxRating {
		d = models.MaxRating - rating
	}
	if rating+d < models.MinRating {
		d = models.MinRating - rating
	}
	return d
}

// Rank is the display tier for a rating. Never used for matching decisions.
type Rank struct {
	Tier     string `json:"tier"`
	Division int    `json:"division"`
}

var tierNames = []string{"Bronze", "Silver", "Gold", "Platinum", "Diamond", "Champion"}

const tierWidth = 500

// RankFor maps a rating onto its tier and division. Divisions count down from
// 3 to 1 inside each tier; Champion has a single division.
func RankFor(rating int) Rank {
	if rating < models.MinRating {
		rating = models.MinRating
	}
	idx := rating / tierWidth
	if idx >= len(tierNames) {
		idx = len(tierNames) - 1
	}
	tier := tierNames[idx]
	if tier == "Champion" {
		return Rank{Tier: tier, Division: 1}
	}

	offset := rating - idx*tierWidth
	division := 3 - offset/(tierWidth/3)
	if division < 1 {
		division = 1
	}
	return Rank{Tier: tier, Division: division}
}
