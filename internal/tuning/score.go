package tuning

import (
	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
)

// ScoreConfig holds the performance targets the score is measured against.
type ScoreConfig struct {
	// MaxOverthrowPercent is the acceptable overshoot as a percentage of
	// target weight (default 6.67, i.e. 1/15).
	MaxOverthrowPercent float64

	// TargetTotalTimeMs is the drop duration goal.
	TargetTotalTimeMs float64
}

// Score converts one drop's telemetry into a scalar reward in [0, 100].
// Overthrow costs up to 50 points (5 per percent), slow drops cost up to
// 30 points, and drops that beat the time target while staying inside
// the overthrow budget earn up to 20 bonus points.
func Score(d *model.DropTelemetry, cfg ScoreConfig) float64 {
	score := 100.0

	overthrowPenalty := abs(d.OverthrowPercent) * 5.0
	if overthrowPenalty > 50 {
		overthrowPenalty = 50
	}
	score -= overthrowPenalty

	timeRatio := d.TotalTimeMs / cfg.TargetTotalTimeMs
	if timeRatio > 1 {
		timePenalty := (timeRatio - 1) * 30.0
		if timePenalty > 30 {
			timePenalty = 30
		}
		score -= timePenalty
	}

	if timeRatio < 1 && d.OverthrowPercent <= cfg.MaxOverthrowPercent {
		score += (1 - timeRatio) * 20.0
	}

	if score < 0 {
		score = 0
	}
	return score
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
