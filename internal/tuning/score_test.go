package tuning

import (
	"testing"

	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

func scoreCfg() ScoreConfig {
	return ScoreConfig{MaxOverthrowPercent: 6.67, TargetTotalTimeMs: 15000}
}

func TestScore_FastCleanDropEarnsBonus(t *testing.T) {
	t.Parallel()

	d := &model.DropTelemetry{OverthrowPercent: 0, TotalTimeMs: 7500}
	// No penalties, half the time budget left: 100 + 0.5*20.
	assert.InDelta(t, 110.0, Score(d, scoreCfg()), 1e-9)
}

func TestScore_OverthrowPenaltyCapsAtFifty(t *testing.T) {
	t.Parallel()

	d := &model.DropTelemetry{OverthrowPercent: 25, TotalTimeMs: 15000}
	assert.InDelta(t, 50.0, Score(d, scoreCfg()), 1e-9)

	// Undershoot is penalized by magnitude too.
	d = &model.DropTelemetry{OverthrowPercent: -4, TotalTimeMs: 15000}
	assert.InDelta(t, 80.0, Score(d, scoreCfg()), 1e-9)
}

func TestScore_TimePenaltyCapsAtThirty(t *testing.T) {
	t.Parallel()

	d := &model.DropTelemetry{OverthrowPercent: 0, TotalTimeMs: 60000}
	assert.InDelta(t, 70.0, Score(d, scoreCfg()), 1e-9)
}

func TestScore_NoBonusAboveOverthrowBudget(t *testing.T) {
	t.Parallel()

	// Fast but 8% over: bonus withheld, only the overthrow penalty applies.
	d := &model.DropTelemetry{OverthrowPercent: 8, TotalTimeMs: 7500}
	assert.InDelta(t, 60.0, Score(d, scoreCfg()), 1e-9)
}

func TestScore_FlooredAtZero(t *testing.T) {
	t.Parallel()

	d := &model.DropTelemetry{OverthrowPercent: 50, TotalTimeMs: 90000}
	assert.Equal(t, 0.0, Score(d, scoreCfg()))
}
