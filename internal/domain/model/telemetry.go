package model

// DropTelemetry is the per-drop record reported by the control loop once a
// dispense cycle finishes. It is immutable after creation.
type DropTelemetry struct {
	DropNumber int

	// Timing
	CoarseTimeMs float64
	FineTimeMs   float64
	TotalTimeMs  float64

	// Accuracy. Overthrow is signed: positive means overshoot past the
	// target weight, negative means undershoot.
	FinalWeight      float64
	TargetWeight     float64
	Overthrow        float64
	OverthrowPercent float64

	// Gains used for this drop.
	Gains GainSet

	// Quality metrics, derived at record time.
	AccuracyScore float64
	SpeedScore    float64
	OverallScore  float64
}
