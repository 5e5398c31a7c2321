// Package sim models the two-motor powder dispenser as a deterministic
// pseudo-random plant. It exists so the tuning engine can be exercised
// end to end on a bench without hardware: gains in, plausible drop
// telemetry out.
package sim

import (
	"math/rand"

	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/frsoeteb/OpenTrickler-v2/internal/tuning"
)

// Config parameterizes the simulated dispenser.
type Config struct {
	Seed         int64
	TargetWeight float64

	// NoiseGrains is the 1-sigma scale noise on dispensed weight.
	NoiseGrains float64
}

// Plant is a crude dispenser model: more Kp means faster, more
// aggressive dispensing with a higher chance of sailing past the stop
// threshold; Kd damps the overshoot back down. Both motors follow the
// same law at different scales.
type Plant struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) *Plant {
	if cfg.TargetWeight <= 0 {
		cfg.TargetWeight = 45.0
	}
	if cfg.NoiseGrains <= 0 {
		cfg.NoiseGrains = 0.05
	}
	return &Plant{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Drop simulates one dispense cycle with the given gains and returns
// its telemetry. The motor mode decides which stages run: phase-1 drops
// run the coarse motor alone, phase-2 drops precharge with the coarse
// motor and measure the fine stage on top.
func (p *Plant) Drop(g model.GainSet, mode tuning.MotorMode) model.DropTelemetry {
	coarseMs := 2000 + 6000/(0.1+2*g.CoarseKP)
	coarseMs *= 1 + 0.05*p.rng.NormFloat64()

	coarseOver := 12*g.CoarseKP - 10*g.CoarseKD - 4
	coarseOver += 0.5 * p.rng.NormFloat64()
	if coarseOver < 0 {
		coarseOver = 0
	}

	fineMs := 1500 + 5000/(0.2+g.FineKP)
	fineMs *= 1 + 0.05*p.rng.NormFloat64()

	fineOver := 0.08*g.FineKP - 0.1*g.FineKD - 0.2
	fineOver += p.cfg.NoiseGrains * p.rng.NormFloat64()
	if fineOver < -0.1 {
		fineOver = -0.1
	}

	d := model.DropTelemetry{
		Gains:        g,
		TargetWeight: p.cfg.TargetWeight,
	}

	switch mode {
	case tuning.MotorModeCoarseOnly:
		d.CoarseTimeMs = coarseMs
		d.TotalTimeMs = coarseMs
		d.Overthrow = coarseOver
	case tuning.MotorModeFineOnly:
		d.CoarseTimeMs = coarseMs
		d.FineTimeMs = fineMs
		d.TotalTimeMs = coarseMs + fineMs
		d.Overthrow = fineOver
	default:
		d.CoarseTimeMs = coarseMs
		d.FineTimeMs = fineMs
		d.TotalTimeMs = coarseMs + fineMs
		d.Overthrow = coarseOver*0.1 + fineOver
	}

	d.OverthrowPercent = 100 * d.Overthrow / d.TargetWeight
	d.FinalWeight = d.TargetWeight + d.Overthrow

	d.AccuracyScore = clampScore(100 - 15*abs(d.OverthrowPercent))
	d.SpeedScore = clampScore(100 * (2 - d.TotalTimeMs/15000))

	return d
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
