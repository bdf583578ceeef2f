package health

import (
	"math"

	"salesbot-wa-be/internal/entity"
)

type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
	RatingCritical  Rating = "critical"
)

const (
	reconnectionPenaltyEach = 5
	reconnectionPenaltyCap  = 50
	disconnectPenaltyEach   = 10
	disconnectPenaltyCap    = 30

	alertScoreBelow      = 70
	alertErrorsAbove     = 10
	alertReconnectsAbove = 5
)

// Score is 100 minus the error rate (percent of error events), minus 5 per
// reconnection (max 50), minus 10 per disconnect (max 30), clamped to
// [0, 100].
func Score(s *entity.HealthStats) float64 {
	if s == nil {
		return 100
	}
	total := s.Total
	if total == 0 {
		total = 1
	}
	errorRate := float64(s.Errors) / float64(total) * 100
	reconnection := math.Min(float64(s.Reconnections*reconnectionPenaltyEach), reconnectionPenaltyCap)
	disconnect := math.Min(float64(s.Disconnects*disconnectPenaltyEach), disconnectPenaltyCap)

	score := 100 - errorRate - reconnection - disconnect
	return math.Max(0, math.Min(100, score))
}

func RatingFor(score float64) Rating {
	switch {
	case score >= 90:
		return RatingExcellent
	case score >= 80:
		return RatingGood
	case score >= 70:
		return RatingFair
	case score >= 50:
		return RatingPoor
	default:
		return RatingCritical
	}
}

// ShouldAlert flags windows operators need to look at.
func ShouldAlert(s *entity.HealthStats) bool {
	if s == nil {
		return false
	}
	return Score(s) < alertScoreBelow || s.Errors > alertErrorsAbove || s.Reconnections > alertReconnectsAbove
}
