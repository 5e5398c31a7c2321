// Package tuning implements the hybrid adaptive + Gaussian-Process PID
// auto-tuning engine for the two cascaded tricklers. A session walks the
// coarse stage, then the fine stage, through an adaptive step search
// followed by surrogate-guided refinement, and produces a recommended
// gain quadruple for the caller to apply to a profile.
//
// The engine is synchronous and lock-free: every operation runs to
// completion in bounded time, and a single logical owner (the control
// task) must serialize calls.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/frsoeteb/OpenTrickler-v2/internal/metrics"
	"github.com/frsoeteb/OpenTrickler-v2/internal/profile"
	"github.com/google/uuid"
)

// State is the outer session state. It only ever advances
// Idle -> Phase1Coarse -> Phase2Fine -> {Complete, Error}; Cancel or a
// successful ApplyParams returns it to Idle.
type State int

const (
	StateIdle State = iota
	StatePhase1Coarse
	StatePhase2Fine
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePhase1Coarse:
		return "phase1_coarse"
	case StatePhase2Fine:
		return "phase2_fine"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MotorMode tells the control loop which actuator is live. It is a pure
// function of session state, polled every control tick.
type MotorMode int

const (
	MotorModeNormal     MotorMode = iota // normal charge: coarse then fine
	MotorModeCoarseOnly                  // phase 1: fine motor forced off
	MotorModeFineOnly                    // phase 2: precharge, then fine only
)

func (m MotorMode) String() string {
	switch m {
	case MotorModeCoarseOnly:
		return "coarse_only"
	case MotorModeFineOnly:
		return "fine_only"
	default:
		return "normal"
	}
}

var (
	ErrNilProfile        = errors.New("tuning: nil profile")
	ErrNotActive         = errors.New("tuning: no active session")
	ErrDropLimitExceeded = errors.New("tuning: drop limit exceeded without convergence")
	ErrNotFinished       = errors.New("tuning: session not finished")
)

// maxDropLog bounds the per-session telemetry log.
const maxDropLog = 50

// Config holds the session's targets and limits.
type Config struct {
	// MaxOverthrowPercent is the fine stage's acceptance cap (default
	// 6.67, i.e. 1/15 of target).
	MaxOverthrowPercent float64

	// CoarseStopThreshold is the weight margin, in grains, where the
	// coarse motor stops; the coarse stage judges overshoot against it.
	CoarseStopThreshold float64

	TargetCoarseTimeMs float64
	TargetTotalTimeMs  float64

	// WarmStartFactor scales history-derived seed gains (default 0.70).
	WarmStartFactor float64

	// DropTarget is the expected session length; MaxDrops the hard cap.
	DropTarget int
	MaxDrops   int

	Bounds model.GainBounds
}

func (c Config) withDefaults() Config {
	if c.MaxOverthrowPercent <= 0 {
		c.MaxOverthrowPercent = 6.67
	}
	if c.CoarseStopThreshold <= 0 {
		c.CoarseStopThreshold = 5.0
	}
	if c.TargetCoarseTimeMs <= 0 {
		c.TargetCoarseTimeMs = 10000
	}
	if c.TargetTotalTimeMs <= 0 {
		c.TargetTotalTimeMs = 15000
	}
	if c.WarmStartFactor <= 0 {
		c.WarmStartFactor = 0.7
	}
	if c.DropTarget <= 0 {
		c.DropTarget = 15
	}
	if c.MaxDrops <= 0 {
		c.MaxDrops = 30
	}
	zero := model.GainBounds{}
	if c.Bounds == zero {
		c.Bounds = model.DefaultGainBounds()
	}
	return c
}

// SuggestionSource supplies warm-start gains from past operation.
// *history.Store satisfies it.
type SuggestionSource interface {
	Suggestions(ctx context.Context, profileIdx int) (model.GainSet, bool)
}

// Session is the top-level tuning state machine. It owns one stage
// controller (with its GP surrogate) per actuator.
type Session struct {
	cfg     Config
	history SuggestionSource
	logger  *slog.Logger

	state   State
	id      uuid.UUID
	profile *profile.Profile

	coarse *stageController
	fine   *stageController

	drops          [maxDropLog]model.DropTelemetry
	dropsCompleted int
	phase2StartIdx int

	recommended model.GainSet

	avgOverthrow   float64
	avgTotalTimeMs float64

	errMsg string
}

// NewSession builds an idle session. history may be nil when no passive
// learning store is available.
func NewSession(cfg Config, history SuggestionSource, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "tuning")
	return &Session{
		cfg:     cfg,
		history: history,
		logger:  logger,
		coarse: newStageController("coarse", coarseLimits(
			cfg.Bounds.CoarseKPMin, cfg.Bounds.CoarseKPMax,
			cfg.Bounds.CoarseKDMin, cfg.Bounds.CoarseKDMax), logger),
		fine: newStageController("fine", fineLimits(
			cfg.Bounds.FineKPMin, cfg.Bounds.FineKPMax,
			cfg.Bounds.FineKDMin, cfg.Bounds.FineKDMax), logger),
	}
}

// Start begins a tuning session against the given profile. The stages
// are seeded from history when at least three records exist for the
// profile (or a global suggestion is present), scaled by the warm-start
// factor; otherwise all gains start at zero.
func (s *Session) Start(ctx context.Context, p *profile.Profile) error {
	if p == nil {
		return ErrNilProfile
	}

	s.id = uuid.New()
	s.profile = p
	s.coarse.reset()
	s.fine.reset()
	s.drops = [maxDropLog]model.DropTelemetry{}
	s.dropsCompleted = 0
	s.phase2StartIdx = 0
	s.recommended = model.GainSet{}
	s.avgOverthrow = 0
	s.avgTotalTimeMs = 0
	s.errMsg = ""

	seeded := false
	if s.history != nil {
		if g, ok := s.history.Suggestions(ctx, p.Index); ok {
			g = g.Scale(s.cfg.WarmStartFactor).Clamp(s.cfg.Bounds)
			s.coarse.seed(g.CoarseKP, g.CoarseKD)
			s.fine.seed(g.FineKP, g.FineKD)
			seeded = true
		}
	}

	s.state = StatePhase1Coarse
	metrics.SessionsStarted.Inc()
	metrics.SessionState.Set(float64(s.state))

	s.logger.Info("tuning session started",
		"session_id", s.id.String(),
		"profile", p.Name,
		"profile_idx", p.Index,
		"warm_start", seeded,
		"drop_target", s.cfg.DropTarget,
		"max_drops", s.cfg.MaxDrops,
	)

	return nil
}

// NextParams returns the gain quadruple the next drop should run with.
// During phase 1 the fine gains are forced to zero; during phase 2 the
// coarse gains are pinned to the phase-1 recommendation so the caller's
// precharge step uses the already-tuned coarse law and drop timing
// reflects the fine stage alone. Returns false when no session is active.
func (s *Session) NextParams() (model.GainSet, bool) {
	switch s.state {
	case StatePhase1Coarse:
		kp, kd := s.coarse.nextGains()
		return model.GainSet{CoarseKP: kp, CoarseKD: kd}, true

	case StatePhase2Fine:
		kp, kd := s.fine.nextGains()
		return model.GainSet{
			CoarseKP: s.recommended.CoarseKP,
			CoarseKD: s.recommended.CoarseKD,
			FineKP:   kp,
			FineKD:   kd,
		}, true

	default:
		return model.GainSet{}, false
	}
}

// RecordDrop feeds one completed drop's telemetry into the active stage.
// Reaching the hard drop cap transitions the session to Error with the
// best-so-far gains exposed as a fallback recommendation.
func (s *Session) RecordDrop(d model.DropTelemetry) error {
	if !s.IsActive() {
		return ErrNotActive
	}

	if s.dropsCompleted >= s.cfg.MaxDrops {
		s.errMsg = fmt.Sprintf("did not converge in %d drops", s.cfg.MaxDrops)
		s.recommended = model.GainSet{
			CoarseKP: s.coarse.kp,
			CoarseKD: s.coarse.kd,
			FineKP:   s.fine.kp,
			FineKD:   s.fine.kd,
		}
		s.state = StateError
		metrics.SessionsFailed.Inc()
		metrics.SessionState.Set(float64(s.state))
		s.logger.Error("tuning did not converge",
			"session_id", s.id.String(),
			"max_drops", s.cfg.MaxDrops,
		)
		return ErrDropLimitExceeded
	}

	score := Score(&d, ScoreConfig{
		MaxOverthrowPercent: s.cfg.MaxOverthrowPercent,
		TargetTotalTimeMs:   s.cfg.TargetTotalTimeMs,
	})
	d.OverallScore = score
	d.DropNumber = s.dropsCompleted + 1

	if s.dropsCompleted < maxDropLog {
		s.drops[s.dropsCompleted] = d
	}
	s.dropsCompleted++

	stage := "coarse"
	if s.state == StatePhase2Fine {
		stage = "fine"
	}
	metrics.DropsRecorded.WithLabelValues(stage).Inc()
	metrics.DropScore.WithLabelValues(stage).Observe(score)

	s.logger.Info("drop recorded",
		"session_id", s.id.String(),
		"drop", s.dropsCompleted,
		"stage", stage,
		"score", score,
		"overthrow", d.Overthrow,
		"overthrow_pct", d.OverthrowPercent,
		"total_time_ms", d.TotalTimeMs,
	)

	switch s.state {
	case StatePhase1Coarse:
		s.coarse.addObservation(d.Gains.CoarseKP, d.Gains.CoarseKD, score)

		overshoot := d.Overthrow > s.cfg.CoarseStopThreshold
		done := s.coarse.observe(stageOutcome{
			overshoot:  overshoot,
			acceptable: !overshoot,
			timeOK:     d.CoarseTimeMs <= s.cfg.TargetCoarseTimeMs,
		})
		if done {
			s.recommended.CoarseKP, s.recommended.CoarseKD = s.coarse.recommend()
			s.phase2StartIdx = s.dropsCompleted
			s.state = StatePhase2Fine
			metrics.SessionState.Set(float64(s.state))
			s.logger.Info("phase 1 complete, tuning fine trickler",
				"session_id", s.id.String(),
				"coarse_kp", s.recommended.CoarseKP,
				"coarse_kd", s.recommended.CoarseKD,
			)
		}

	case StatePhase2Fine:
		s.fine.addObservation(d.Gains.FineKP, d.Gains.FineKD, score)

		done := s.fine.observe(stageOutcome{
			overshoot:  d.Overthrow > 0,
			acceptable: abs(d.OverthrowPercent) <= s.cfg.MaxOverthrowPercent,
			timeOK:     d.TotalTimeMs <= s.cfg.TargetTotalTimeMs,
		})
		if done {
			s.recommended.FineKP, s.recommended.FineKD = s.fine.recommend()
			s.finalize()
		}
	}

	return nil
}

// ApplyParams copies the recommended gains into the session's profile.
// Valid only once the session is Complete (or in Error, where the
// best-so-far fallback applies); the caller persists the profile.
func (s *Session) ApplyParams() error {
	if (s.state != StateComplete && s.state != StateError) || s.profile == nil {
		return ErrNotFinished
	}

	s.profile.CoarseKP = s.recommended.CoarseKP
	s.profile.CoarseKD = s.recommended.CoarseKD
	s.profile.FineKP = s.recommended.FineKP
	s.profile.FineKD = s.recommended.FineKD

	s.logger.Info("recommended gains applied to profile",
		"session_id", s.id.String(),
		"profile", s.profile.Name,
		"coarse_kp", s.profile.CoarseKP,
		"coarse_kd", s.profile.CoarseKD,
		"fine_kp", s.profile.FineKP,
		"fine_kd", s.profile.FineKD,
	)

	s.state = StateIdle
	metrics.SessionState.Set(float64(s.state))
	return nil
}

// Cancel discards all in-flight state and returns the session to Idle.
func (s *Session) Cancel() {
	s.logger.Info("tuning session cancelled", "session_id", s.id.String())
	s.state = StateIdle
	s.profile = nil
	s.dropsCompleted = 0
	s.phase2StartIdx = 0
	s.recommended = model.GainSet{}
	s.errMsg = ""
	s.coarse.reset()
	s.fine.reset()
	metrics.SessionState.Set(float64(s.state))
}

// State returns the current outer state.
func (s *Session) State() State {
	return s.state
}

// IsActive reports whether a tuning phase is in progress.
func (s *Session) IsActive() bool {
	return s.state == StatePhase1Coarse || s.state == StatePhase2Fine
}

// IsComplete reports whether tuning finished and recommendations await
// confirmation.
func (s *Session) IsComplete() bool {
	return s.state == StateComplete
}

// MotorMode returns which actuator the control loop should drive.
func (s *Session) MotorMode() MotorMode {
	switch s.state {
	case StatePhase1Coarse:
		return MotorModeCoarseOnly
	case StatePhase2Fine:
		return MotorModeFineOnly
	default:
		return MotorModeNormal
	}
}

// Snapshot is a point-in-time view of a session for status surfaces.
type Snapshot struct {
	ID             string
	State          string
	CoarsePhase    string
	FinePhase      string
	DropsCompleted int
	DropTarget     int
	MaxDrops       int
	Phase2StartIdx int
	ProgressPct    int
	Recommended    model.GainSet
	AvgOverthrow   float64
	AvgTotalTimeMs float64
	ErrorMessage   string
	Drops          []model.DropTelemetry
}

// Snapshot returns the session's current state, including a copy of the
// drop log.
func (s *Session) Snapshot() Snapshot {
	n := s.loggedDrops()
	drops := make([]model.DropTelemetry, n)
	copy(drops, s.drops[:n])

	return Snapshot{
		ID:             s.id.String(),
		State:          s.state.String(),
		CoarsePhase:    s.coarse.phase.String(),
		FinePhase:      s.fine.phase.String(),
		DropsCompleted: s.dropsCompleted,
		DropTarget:     s.cfg.DropTarget,
		MaxDrops:       s.cfg.MaxDrops,
		Phase2StartIdx: s.phase2StartIdx,
		ProgressPct:    s.ProgressPercent(),
		Recommended:    s.recommended,
		AvgOverthrow:   s.avgOverthrow,
		AvgTotalTimeMs: s.avgTotalTimeMs,
		ErrorMessage:   s.errMsg,
		Drops:          drops,
	}
}

// ProgressPercent reports 100 * drops completed / drop target.
func (s *Session) ProgressPercent() int {
	if s.cfg.DropTarget == 0 {
		return 0
	}
	return 100 * s.dropsCompleted / s.cfg.DropTarget
}

func (s *Session) finalize() {
	var totalOverthrow, totalTime float64
	n := s.loggedDrops()
	for i := 0; i < n; i++ {
		totalOverthrow += s.drops[i].Overthrow
		totalTime += s.drops[i].TotalTimeMs
	}
	if n > 0 {
		s.avgOverthrow = totalOverthrow / float64(n)
		s.avgTotalTimeMs = totalTime / float64(n)
	}

	s.state = StateComplete
	metrics.SessionsCompleted.Inc()
	metrics.SessionState.Set(float64(s.state))

	s.logger.Info("tuning complete",
		"session_id", s.id.String(),
		"coarse_kp", s.recommended.CoarseKP,
		"coarse_kd", s.recommended.CoarseKD,
		"fine_kp", s.recommended.FineKP,
		"fine_kd", s.recommended.FineKD,
		"drops", s.dropsCompleted,
		"avg_overthrow", s.avgOverthrow,
		"avg_total_time_ms", s.avgTotalTimeMs,
	)
}

func (s *Session) loggedDrops() int {
	if s.dropsCompleted < maxDropLog {
		return s.dropsCompleted
	}
	return maxDropLog
}
