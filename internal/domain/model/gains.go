package model

// GainSet is the quadruple of PD gains driving the two dispenser motors.
// Ki is fixed at zero for both motors, so it is not represented.
type GainSet struct {
	CoarseKP float64
	CoarseKD float64
	FineKP   float64
	FineKD   float64
}

// Clamp returns a copy of g with every gain limited to its configured axis range.
func (g GainSet) Clamp(b GainBounds) GainSet {
	return GainSet{
		CoarseKP: clamp(g.CoarseKP, b.CoarseKPMin, b.CoarseKPMax),
		CoarseKD: clamp(g.CoarseKD, b.CoarseKDMin, b.CoarseKDMax),
		FineKP:   clamp(g.FineKP, b.FineKPMin, b.FineKPMax),
		FineKD:   clamp(g.FineKD, b.FineKDMin, b.FineKDMax),
	}
}

// Scale returns a copy of g with every gain multiplied by f.
func (g GainSet) Scale(f float64) GainSet {
	return GainSet{
		CoarseKP: g.CoarseKP * f,
		CoarseKD: g.CoarseKD * f,
		FineKP:   g.FineKP * f,
		FineKD:   g.FineKD * f,
	}
}

// GainBounds holds the per-axis gain limits. The coarse trickler is a gentle,
// high-flow motor (0-1 range); the fine trickler is aggressive and low-flow
// (0-10 range).
type GainBounds struct {
	CoarseKPMin float64
	CoarseKPMax float64
	CoarseKDMin float64
	CoarseKDMax float64
	FineKPMin   float64
	FineKPMax   float64
	FineKDMin   float64
	FineKDMax   float64
}

// DefaultGainBounds returns the stock axis ranges.
func DefaultGainBounds() GainBounds {
	return GainBounds{
		CoarseKPMin: 0, CoarseKPMax: 1,
		CoarseKDMin: 0, CoarseKDMax: 1,
		FineKPMin: 0, FineKPMax: 10,
		FineKDMin: 0, FineKDMax: 10,
	}
}

func clamp(v, minV, maxV float64) float64 {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
