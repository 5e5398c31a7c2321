package tuning

import (
	"log/slog"

	"github.com/frsoeteb/OpenTrickler-v2/internal/metrics"
	"github.com/frsoeteb/OpenTrickler-v2/internal/tuning/gp"
)

// StagePhase is the per-actuator sub-phase within a tuning phase. It only
// advances forward: the adaptive walk finds a workable baseline, then the
// GP surrogate refines the Kp x Kd combination around it.
type StagePhase int

const (
	StageAdaptiveKP StagePhase = iota // raise Kp until overshoot appears
	StageAdaptiveKD                   // raise Kd until overshoot resolves
	StageGPRefine                     // surrogate-guided refinement
)

func (p StagePhase) String() string {
	switch p {
	case StageAdaptiveKP:
		return "adaptive_kp"
	case StageAdaptiveKD:
		return "adaptive_kd"
	case StageGPRefine:
		return "gp_refine"
	default:
		return "unknown"
	}
}

// gpRefineDrops is how many surrogate-guided drops each stage runs before
// taking the best observed point as its recommendation.
const gpRefineDrops = 5

// stageLimits bounds one actuator's gain axes and step schedule. The
// minimum step is 2% of the axis range; initial steps are 20% (Kp) and
// 10% (Kd).
type stageLimits struct {
	kpMin, kpMax float64
	kdMin, kdMax float64
	kpStep       float64
	kdStep       float64
	minStep      float64
}

func coarseLimits(kpMin, kpMax, kdMin, kdMax float64) stageLimits {
	return stageLimits{
		kpMin: kpMin, kpMax: kpMax,
		kdMin: kdMin, kdMax: kdMax,
		kpStep:  0.2,
		kdStep:  0.1,
		minStep: 0.02,
	}
}

func fineLimits(kpMin, kpMax, kdMin, kdMax float64) stageLimits {
	return stageLimits{
		kpMin: kpMin, kpMax: kpMax,
		kdMin: kdMin, kdMax: kdMax,
		kpStep:  2.0,
		kdStep:  1.0,
		minStep: 0.2,
	}
}

// stageOutcome is one drop's result evaluated against the stage's
// acceptance criteria. The session derives it from raw telemetry; the
// coarse stage judges overshoot against an absolute threshold in grains,
// the fine stage against a percentage cap.
type stageOutcome struct {
	overshoot  bool // dispensed past the stage's overshoot line
	acceptable bool // overshoot within the stage's tolerance
	timeOK     bool // met the stage's timing target
}

// stageController walks one actuator's gains through the adaptive
// phases and hands off to its GP surrogate for refinement.
type stageController struct {
	name   string
	limits stageLimits
	logger *slog.Logger

	phase  StagePhase
	kp, kd float64
	kpStep float64
	kdStep float64

	model   *gp.Model
	gpCount int
}

func newStageController(name string, limits stageLimits, logger *slog.Logger) *stageController {
	return &stageController{
		name:   name,
		limits: limits,
		logger: logger.With("stage", name),
		phase:  StageAdaptiveKP,
		kpStep: limits.kpStep,
		kdStep: limits.kdStep,
		model:  gp.New(limits.kpMin, limits.kpMax, limits.kdMin, limits.kdMax),
	}
}

// seed installs a warm-start gain pair, clamped to the axis ranges.
func (s *stageController) seed(kp, kd float64) {
	s.kp = clampRange(kp, s.limits.kpMin, s.limits.kpMax)
	s.kd = clampRange(kd, s.limits.kdMin, s.limits.kdMax)
}

// nextGains returns the gains the next drop should run with: the
// adaptive best-so-far, or the surrogate's UCB pick during refinement.
func (s *stageController) nextGains() (kp, kd float64) {
	if s.phase == StageGPRefine {
		return s.model.NextParams()
	}
	return s.kp, s.kd
}

// addObservation feeds one drop's gains and score into the surrogate.
// Every drop of the stage's phase contributes, including adaptive ones,
// so refinement starts from an informed posterior. At capacity the
// insert is rejected and the drop simply doesn't inform the surrogate.
func (s *stageController) addObservation(kp, kd, score float64) {
	retriesBefore := s.model.JitterRetries()
	if !s.model.AddObservation(kp, kd, score) {
		s.logger.Warn("surrogate at capacity, observation dropped",
			"observations", s.model.ObservationCount())
		return
	}
	if d := s.model.JitterRetries() - retriesBefore; d > 0 {
		metrics.GPJitterRetries.WithLabelValues(s.name).Add(float64(d))
	}
	metrics.GPObservations.WithLabelValues(s.name).Set(float64(s.model.ObservationCount()))
}

// observe advances the stage's state machine on one drop outcome.
// Returns true once the stage has finished GP refinement and its
// recommendation is available.
func (s *stageController) observe(out stageOutcome) bool {
	switch s.phase {
	case StageGPRefine:
		s.gpCount++
		if s.gpCount >= gpRefineDrops {
			kp, kd, score := s.model.BestObserved()
			s.logger.Info("stage tuned",
				"kp", kp, "kd", kd, "best_score", score)
			return true
		}
		return false

	case StageAdaptiveKP:
		s.observeAdaptiveKP(out)

	case StageAdaptiveKD:
		s.observeAdaptiveKD(out)
	}

	s.kp = clampRange(s.kp, s.limits.kpMin, s.limits.kpMax)
	s.kd = clampRange(s.kd, s.limits.kdMin, s.limits.kdMax)
	return false
}

func (s *stageController) observeAdaptiveKP(out stageOutcome) {
	if out.overshoot {
		if s.kpStep > s.limits.minStep {
			// Back off past the overshoot point and retry with half the step.
			s.kp -= s.kpStep
			if s.kp < 0 {
				s.kp = 0
			}
			s.kpStep /= 2
			if s.kpStep < s.limits.minStep {
				s.kpStep = s.limits.minStep
			}
			s.kp += s.kpStep
			s.logger.Debug("overshoot, backed off kp", "kp", s.kp, "step", s.kpStep)
		} else {
			s.logger.Debug("kp converged, tuning kd", "kp", s.kp)
			s.phase = StageAdaptiveKD
			s.kd += s.kdStep
		}
		return
	}

	s.kp += s.kpStep
	if s.kp >= s.limits.kpMax {
		s.kp = s.limits.kpMax
		s.logger.Debug("kp saturated, tuning kd", "kp", s.kp)
		s.phase = StageAdaptiveKD
	}
}

func (s *stageController) observeAdaptiveKD(out stageOutcome) {
	switch {
	case out.acceptable && out.timeOK:
		// Baseline found; refine the Kp x Kd combination.
		s.logger.Debug("adaptive baseline found, starting gp refinement",
			"kp", s.kp, "kd", s.kd)
		s.phase = StageGPRefine
		s.gpCount = 0

	case !out.acceptable && out.overshoot:
		s.kd += s.kdStep
		if s.kd >= s.limits.kdMax {
			s.kd = s.limits.kdMax
			s.logger.Debug("kd saturated, starting gp refinement")
			s.phase = StageGPRefine
			s.gpCount = 0
		}

	case !out.timeOK:
		// Overshoot under control but too slow: a little more drive.
		s.kp += s.limits.minStep

	default:
		// Underthrow with time in hand: settle Kd down gently.
		if s.kd > s.limits.minStep {
			s.kd -= s.limits.minStep
		}
	}
}

// recommend returns the stage's final gain pick: the best-scoring
// observed point.
func (s *stageController) recommend() (kp, kd float64) {
	kp, kd, _ = s.model.BestObserved()
	return kp, kd
}

// reset returns the stage to its initial adaptive state.
func (s *stageController) reset() {
	s.phase = StageAdaptiveKP
	s.kp = 0
	s.kd = 0
	s.kpStep = s.limits.kpStep
	s.kdStep = s.limits.kdStep
	s.gpCount = 0
	s.model.Reset()
	metrics.GPObservations.WithLabelValues(s.name).Set(0)
}

func clampRange(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
