package sim

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/frsoeteb/OpenTrickler-v2/internal/profile"
	"github.com/frsoeteb/OpenTrickler-v2/internal/tuning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlant_DeterministicForSeed(t *testing.T) {
	t.Parallel()

	g := model.GainSet{CoarseKP: 0.5, CoarseKD: 0.2, FineKP: 3, FineKD: 1}

	a := New(Config{Seed: 7}).Drop(g, tuning.MotorModeNormal)
	b := New(Config{Seed: 7}).Drop(g, tuning.MotorModeNormal)
	assert.Equal(t, a, b)

	c := New(Config{Seed: 8}).Drop(g, tuning.MotorModeNormal)
	assert.NotEqual(t, a, c)
}

func TestPlant_MoreCoarseDriveIsFaster(t *testing.T) {
	t.Parallel()

	slow := New(Config{Seed: 1}).Drop(model.GainSet{CoarseKP: 0.05}, tuning.MotorModeCoarseOnly)
	fast := New(Config{Seed: 1}).Drop(model.GainSet{CoarseKP: 0.9}, tuning.MotorModeCoarseOnly)

	assert.Less(t, fast.CoarseTimeMs, slow.CoarseTimeMs)
}

func TestPlant_AggressiveCoarseGainOvershoots(t *testing.T) {
	t.Parallel()

	p := New(Config{Seed: 3})
	d := p.Drop(model.GainSet{CoarseKP: 1.0, CoarseKD: 0}, tuning.MotorModeCoarseOnly)
	assert.Greater(t, d.Overthrow, 5.0)

	// Damping pulls the same drive back under the stop threshold.
	p = New(Config{Seed: 3})
	d = p.Drop(model.GainSet{CoarseKP: 1.0, CoarseKD: 0.8}, tuning.MotorModeCoarseOnly)
	assert.Less(t, d.Overthrow, 5.0)
}

func TestPlant_CoarseOnlyDropHasNoFineTime(t *testing.T) {
	t.Parallel()

	d := New(Config{Seed: 2}).Drop(model.GainSet{CoarseKP: 0.4}, tuning.MotorModeCoarseOnly)
	assert.Zero(t, d.FineTimeMs)
	assert.Equal(t, d.CoarseTimeMs, d.TotalTimeMs)
}

func TestPlant_FineOnlyDropIncludesPrecharge(t *testing.T) {
	t.Parallel()

	g := model.GainSet{CoarseKP: 0.6, CoarseKD: 0.3, FineKP: 4, FineKD: 2}
	d := New(Config{Seed: 2}).Drop(g, tuning.MotorModeFineOnly)

	assert.Positive(t, d.CoarseTimeMs)
	assert.Positive(t, d.FineTimeMs)
	assert.InDelta(t, d.CoarseTimeMs+d.FineTimeMs, d.TotalTimeMs, 1e-9)
}

func TestPlant_TelemetryIsInternallyConsistent(t *testing.T) {
	t.Parallel()

	g := model.GainSet{CoarseKP: 0.5, CoarseKD: 0.2, FineKP: 5, FineKD: 1}
	d := New(Config{Seed: 11, TargetWeight: 50}).Drop(g, tuning.MotorModeNormal)

	require.Equal(t, 50.0, d.TargetWeight)
	assert.InDelta(t, d.TargetWeight+d.Overthrow, d.FinalWeight, 1e-9)
	assert.InDelta(t, 100*d.Overthrow/d.TargetWeight, d.OverthrowPercent, 1e-9)
	assert.GreaterOrEqual(t, d.AccuracyScore, 0.0)
	assert.LessOrEqual(t, d.AccuracyScore, 100.0)
}

func TestPlant_SessionConvergesAgainstPlant(t *testing.T) {
	t.Parallel()

	p := New(Config{Seed: 42})
	s := tuning.NewSession(tuning.Config{}, nil, testLogger())
	prof := &profile.Profile{Index: 0, Name: "default", TargetWeight: 45.0}
	require.NoError(t, s.Start(context.Background(), prof))

	for i := 0; s.IsActive() && i < 40; i++ {
		g, ok := s.NextParams()
		require.True(t, ok)
		if err := s.RecordDrop(p.Drop(g, s.MotorMode())); err != nil {
			break
		}
	}

	// The plant is tame enough that the session must leave the active
	// states one way or the other within the drop budget.
	assert.False(t, s.IsActive())
}
