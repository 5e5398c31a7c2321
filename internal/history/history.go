// Package history implements the passive learning store: a small
// persisted circular buffer of normal-operation drop outcomes, used to
// warm-start tuning sessions and to refine profile gains from ordinary
// use. The whole structure is persisted as one blob guarded by a
// revision tag; a mismatch on load degrades to "no history" rather than
// an error.
//
// The store assumes a single logical owner and performs no internal
// synchronization.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/frsoeteb/OpenTrickler-v2/internal/metrics"
	"github.com/frsoeteb/OpenTrickler-v2/internal/profile"
	"github.com/frsoeteb/OpenTrickler-v2/internal/store"
)

// Capacity is the fixed circular buffer size; the oldest record is
// overwritten beyond it.
const Capacity = 10

// suggestionMinRecords is how many records must exist before the store
// derives suggestions.
const suggestionMinRecords = 3

// Fixed suggestion deltas, scaled to each stage's gain range.
const (
	coarseAdjust = 0.01
	fineAdjust   = 0.1
)

var (
	ErrNoSuggestions = errors.New("history: no suggestions available")
	ErrNilProfile    = errors.New("history: nil profile")
)

// Record is one normal-operation drop outcome.
type Record struct {
	Gains        model.GainSet
	Overthrow    float64
	CoarseTimeMs float64
	FineTimeMs   float64
	TotalTimeMs  float64
	ProfileIndex int
}

// Config parameterizes the store. Thresholds are the stage stop
// thresholds in grains; they steer the suggestion deltas.
type Config struct {
	Addr                uint32
	CoarseStopThreshold float64
	FineStopThreshold   float64
	Bounds              model.GainBounds
}

// Store is the persisted ML history buffer plus its derived suggestion.
type Store struct {
	cfg    Config
	blob   store.BlobStore
	logger *slog.Logger

	records        [Capacity]Record
	count          int
	next           int
	suggested      model.GainSet
	hasSuggestions bool

	loaded bool
}

func New(cfg Config, blob store.BlobStore, logger *slog.Logger) *Store {
	if cfg.CoarseStopThreshold <= 0 {
		cfg.CoarseStopThreshold = 5.0
	}
	if cfg.FineStopThreshold <= 0 {
		cfg.FineStopThreshold = 0.03
	}
	zero := model.GainBounds{}
	if cfg.Bounds == zero {
		cfg.Bounds = model.DefaultGainBounds()
	}
	return &Store{
		cfg:    cfg,
		blob:   blob,
		logger: logger.With("component", "history"),
	}
}

// Count returns the number of valid records on file.
func (s *Store) Count(ctx context.Context) int {
	s.load(ctx)
	return s.count
}

// RecordCharge appends one drop outcome, recomputes suggestions once
// enough records exist, and persists the whole structure.
func (s *Store) RecordCharge(ctx context.Context, rec Record) error {
	s.load(ctx)

	rec.TotalTimeMs = rec.CoarseTimeMs + rec.FineTimeMs

	s.records[s.next] = rec
	s.next = (s.next + 1) % Capacity
	if s.count < Capacity {
		s.count++
	}

	if s.count >= suggestionMinRecords {
		s.recalcSuggestions()
	}

	metrics.HistoryChargesRecorded.Inc()
	metrics.HistoryRecords.Set(float64(s.count))

	s.logger.Debug("recorded charge",
		"count", s.count,
		"overthrow", rec.Overthrow,
		"total_time_ms", rec.TotalTimeMs,
		"profile_idx", rec.ProfileIndex,
	)

	return s.save(ctx)
}

// Suggestions returns warm-start gains for the given profile: the
// per-profile mean when at least three matching records exist, else the
// global refined suggestion when present. Use profile.AnyProfile to
// aggregate across profiles.
func (s *Store) Suggestions(ctx context.Context, profileIdx int) (model.GainSet, bool) {
	s.load(ctx)

	if s.count < suggestionMinRecords {
		return model.GainSet{}, false
	}

	var sum model.GainSet
	matched := 0
	for i := 0; i < s.count; i++ {
		r := &s.records[i]
		if profileIdx != profile.AnyProfile && r.ProfileIndex != profileIdx {
			continue
		}
		sum.CoarseKP += r.Gains.CoarseKP
		sum.CoarseKD += r.Gains.CoarseKD
		sum.FineKP += r.Gains.FineKP
		sum.FineKD += r.Gains.FineKD
		matched++
	}

	if matched < suggestionMinRecords {
		if s.hasSuggestions {
			return s.suggested, true
		}
		return model.GainSet{}, false
	}

	return sum.Scale(1 / float64(matched)), true
}

// RefinedParams returns the current global suggestion, if any.
func (s *Store) RefinedParams(ctx context.Context) (model.GainSet, bool) {
	s.load(ctx)
	if !s.hasSuggestions {
		return model.GainSet{}, false
	}
	return s.suggested, true
}

// ApplyRefined writes the global suggestion into the given profile and
// clears the history so learning restarts fresh. The caller persists the
// profile.
func (s *Store) ApplyRefined(ctx context.Context, p *profile.Profile) error {
	s.load(ctx)

	if p == nil {
		return ErrNilProfile
	}
	if !s.hasSuggestions {
		return ErrNoSuggestions
	}

	p.CoarseKP = s.suggested.CoarseKP
	p.CoarseKD = s.suggested.CoarseKD
	p.FineKP = s.suggested.FineKP
	p.FineKD = s.suggested.FineKD

	s.logger.Info("applied refined gains to profile",
		"profile", p.Name,
		"coarse_kp", p.CoarseKP,
		"coarse_kd", p.CoarseKD,
		"fine_kp", p.FineKP,
		"fine_kd", p.FineKD,
	)

	metrics.HistoryRefinementsApplied.Inc()

	s.count = 0
	s.next = 0
	s.hasSuggestions = false
	metrics.HistoryRecords.Set(0)

	return s.save(ctx)
}

// Clear resets the history to empty, revision tag intact.
func (s *Store) Clear(ctx context.Context) error {
	s.records = [Capacity]Record{}
	s.count = 0
	s.next = 0
	s.suggested = model.GainSet{}
	s.hasSuggestions = false
	s.loaded = true
	metrics.HistoryRecords.Set(0)
	return s.save(ctx)
}

// recalcSuggestions derives the global suggestion: the mean of all
// recorded gains, nudged by a fixed delta whose sign depends on whether
// the mean overthrow exceeds the stage stop thresholds, clamped to the
// gain bounds.
func (s *Store) recalcSuggestions() {
	var sum model.GainSet
	avgOverthrow := 0.0
	for i := 0; i < s.count; i++ {
		r := &s.records[i]
		sum.CoarseKP += r.Gains.CoarseKP
		sum.CoarseKD += r.Gains.CoarseKD
		sum.FineKP += r.Gains.FineKP
		sum.FineKD += r.Gains.FineKD
		avgOverthrow += r.Overthrow
	}
	n := float64(s.count)
	avg := sum.Scale(1 / n)
	avgOverthrow /= n

	var coarseKPAdj, coarseKDAdj, fineKPAdj, fineKDAdj float64

	if avgOverthrow > s.cfg.CoarseStopThreshold*0.5 {
		coarseKDAdj = coarseAdjust
	} else if avgOverthrow < -s.cfg.FineStopThreshold {
		coarseKPAdj = coarseAdjust
	}

	if avgOverthrow > s.cfg.FineStopThreshold {
		fineKDAdj = fineAdjust
	} else if avgOverthrow < -s.cfg.FineStopThreshold {
		fineKPAdj = fineAdjust
	}

	s.suggested = model.GainSet{
		CoarseKP: avg.CoarseKP + coarseKPAdj,
		CoarseKD: avg.CoarseKD + coarseKDAdj,
		FineKP:   avg.FineKP + fineKPAdj,
		FineKD:   avg.FineKD + fineKDAdj,
	}.Clamp(s.cfg.Bounds)
	s.hasSuggestions = true

	s.logger.Debug("refined suggestions",
		"avg_overthrow", avgOverthrow,
		"coarse_kp", s.suggested.CoarseKP,
		"coarse_kd", s.suggested.CoarseKD,
		"fine_kp", s.suggested.FineKP,
		"fine_kd", s.suggested.FineKD,
	)
}

// load reads the persisted structure on first use. Any failure, short
// blob, or revision mismatch degrades to empty history.
func (s *Store) load(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := s.blob.Read(ctx, s.cfg.Addr)
	if err != nil {
		metrics.BlobReadErrors.WithLabelValues("history").Inc()
		s.logger.Warn("history load failed, starting fresh", "error", err)
		return
	}
	if data == nil {
		s.logger.Info("no persisted history, starting fresh")
		return
	}

	if !s.decode(data) {
		s.logger.Warn("history revision mismatch, starting fresh")
		return
	}

	metrics.HistoryRecords.Set(float64(s.count))
	s.logger.Info("loaded history", "records", s.count)
}

func (s *Store) save(ctx context.Context) error {
	if err := s.blob.Write(ctx, s.cfg.Addr, s.encode()); err != nil {
		metrics.BlobWriteErrors.WithLabelValues("history").Inc()
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
