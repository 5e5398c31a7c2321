// Package gp implements a small Gaussian Process surrogate over a 2-D
// (Kp, Kd) gain space with a squared-exponential kernel and a UCB
// acquisition rule. It is sized for interactive tuning: at most
// MaxObservations points, fixed-size storage, eager Cholesky
// refactorization on insert so that prediction stays cheap.
package gp

import (
	"math"
)

const (
	// MaxObservations bounds the observation set. Factorization is O(n^3)
	// with n <= MaxObservations, so every operation runs in bounded time.
	MaxObservations = 20

	paramDim = 2

	// priorMean is returned by Predict before any observation exists
	// (middle of the 0-100 score range).
	priorMean = 50.0

	// Jitter constants for non-positive-definite covariance recovery.
	pivotJitter    = 1e-6
	diagonalJitter = 1e-4

	gridSize = 10
)

// Observation is one evaluated gain pair with its observed score.
// Immutable once inserted.
type Observation struct {
	KP    float64
	KD    float64
	Score float64
}

// Model is a bounded-capacity GP regression model. It is not safe for
// concurrent use; the owning control task must serialize calls.
type Model struct {
	obs  [MaxObservations]Observation
	nObs int

	// Kernel hyperparameters.
	lengthScale float64
	signalVar   float64
	noiseVar    float64

	// UCB exploration weight.
	beta float64

	paramMin [paramDim]float64
	paramMax [paramDim]float64

	// Cached lower-triangular Cholesky factor of K + noise*I and the
	// solve vector alpha = K^-1 * y. Valid iff factorValid is set, which
	// only happens right after an insert.
	factor      [MaxObservations][MaxObservations]float64
	alpha       [MaxObservations]float64
	factorValid bool

	jitterRetries int
}

// New returns a model over the given gain bounds. Hyperparameters are
// fixed for the PID tuning problem: length scale at 15% of the widest
// axis range, signal variance matched to the 0-100 score range, and a
// moderately explorative beta.
func New(kpMin, kpMax, kdMin, kdMax float64) *Model {
	m := &Model{}
	m.paramMin[0] = kpMin
	m.paramMax[0] = kpMax
	m.paramMin[1] = kdMin
	m.paramMax[1] = kdMax

	m.lengthScale = math.Max(kpMax-kpMin, kdMax-kdMin) * 0.15
	m.signalVar = 100.0
	m.noiseVar = 5.0
	m.beta = 2.0

	return m
}

// ObservationCount returns the number of observations on file.
func (m *Model) ObservationCount() int {
	return m.nObs
}

// JitterRetries returns how many times the full-matrix jitter fallback
// has fired since the model was created or reset.
func (m *Model) JitterRetries() int {
	return m.jitterRetries
}

// AddObservation inserts one (kp, kd, score) point and eagerly
// refactorizes the covariance. Returns false without mutating state when
// the model is at capacity.
func (m *Model) AddObservation(kp, kd, score float64) bool {
	if m.nObs >= MaxObservations {
		return false
	}

	m.obs[m.nObs] = Observation{KP: kp, KD: kd, Score: score}
	m.nObs++

	m.factorValid = false
	m.refactor()

	return true
}

// Predict returns the posterior mean and variance at (kp, kd). With no
// observations it returns the prior. Variance is floored at zero.
func (m *Model) Predict(kp, kd float64) (mean, variance float64) {
	n := m.nObs
	if n == 0 || !m.factorValid {
		return priorMean, m.signalVar
	}

	x := [paramDim]float64{kp, kd}

	var kStar [MaxObservations]float64
	for i := 0; i < n; i++ {
		kStar[i] = m.kernel(x, [paramDim]float64{m.obs[i].KP, m.obs[i].KD})
	}

	mean = 0
	for i := 0; i < n; i++ {
		mean += kStar[i] * m.alpha[i]
	}

	// Solve L*v = kStar by forward substitution; var = k(x,x) - ||v||^2.
	var v [MaxObservations]float64
	for i := 0; i < n; i++ {
		sum := kStar[i]
		for j := 0; j < i; j++ {
			sum -= m.factor[i][j] * v[j]
		}
		v[i] = sum / m.factor[i][i]
	}

	kxx := m.kernel(x, x)
	vv := 0.0
	for i := 0; i < n; i++ {
		vv += v[i] * v[i]
	}

	return mean, math.Max(0, kxx-vv)
}

// UCB returns the upper-confidence-bound acquisition value at (kp, kd).
func (m *Model) UCB(kp, kd float64) float64 {
	mean, variance := m.Predict(kp, kd)
	return mean + m.beta*math.Sqrt(variance)
}

// NextParams searches the bounds for the point with maximal UCB: a
// coarse 10x10 grid pass followed by a 5x5 local refinement around the
// grid winner at half the grid step, clamped back to bounds. The best
// point seen across both passes wins.
func (m *Model) NextParams() (kp, kd float64) {
	bestUCB := math.Inf(-1)
	bestKP := (m.paramMin[0] + m.paramMax[0]) / 2
	bestKD := (m.paramMin[1] + m.paramMax[1]) / 2

	kpStep := (m.paramMax[0] - m.paramMin[0]) / float64(gridSize-1)
	kdStep := (m.paramMax[1] - m.paramMin[1]) / float64(gridSize-1)

	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			testKP := m.paramMin[0] + float64(i)*kpStep
			testKD := m.paramMin[1] + float64(j)*kdStep

			if u := m.UCB(testKP, testKD); u > bestUCB {
				bestUCB = u
				bestKP = testKP
				bestKD = testKD
			}
		}
	}

	refineRange := math.Max(kpStep, kdStep) * 0.5
	for i := -2; i <= 2; i++ {
		for j := -2; j <= 2; j++ {
			testKP := bestKP + float64(i)*refineRange*0.5
			testKD := bestKD + float64(j)*refineRange*0.5

			testKP = math.Max(m.paramMin[0], math.Min(testKP, m.paramMax[0]))
			testKD = math.Max(m.paramMin[1], math.Min(testKD, m.paramMax[1]))

			if u := m.UCB(testKP, testKD); u > bestUCB {
				bestUCB = u
				bestKP = testKP
				bestKD = testKD
			}
		}
	}

	return bestKP, bestKD
}

// BestObserved returns the maximum-score observation on file. With no
// observations it returns the bound midpoint and a zero score.
func (m *Model) BestObserved() (kp, kd, score float64) {
	if m.nObs == 0 {
		return (m.paramMin[0] + m.paramMax[0]) / 2,
			(m.paramMin[1] + m.paramMax[1]) / 2,
			0
	}

	bestIdx := 0
	for i := 1; i < m.nObs; i++ {
		if m.obs[i].Score > m.obs[bestIdx].Score {
			bestIdx = i
		}
	}

	best := m.obs[bestIdx]
	return best.KP, best.KD, best.Score
}

// Reset clears all observations and invalidates the cached factorization.
func (m *Model) Reset() {
	m.nObs = 0
	m.factorValid = false
	m.jitterRetries = 0
	m.obs = [MaxObservations]Observation{}
	m.factor = [MaxObservations][MaxObservations]float64{}
	m.alpha = [MaxObservations]float64{}
}

// kernel is the squared-exponential covariance:
// k(x1,x2) = signalVar * exp(-0.5 * ||x1-x2||^2 / lengthScale^2).
func (m *Model) kernel(x1, x2 [paramDim]float64) float64 {
	sqDist := 0.0
	for i := 0; i < paramDim; i++ {
		d := x1[i] - x2[i]
		sqDist += d * d
	}
	lsSq := m.lengthScale * m.lengthScale
	return m.signalVar * math.Exp(-0.5*sqDist/lsSq)
}

// refactor rebuilds the covariance matrix, its Cholesky factor and the
// alpha solve vector from the current observation set.
func (m *Model) refactor() {
	n := m.nObs
	if n == 0 {
		m.factorValid = false
		return
	}

	var k [MaxObservations][MaxObservations]float64
	for i := 0; i < n; i++ {
		xi := [paramDim]float64{m.obs[i].KP, m.obs[i].KD}
		for j := 0; j < n; j++ {
			xj := [paramDim]float64{m.obs[j].KP, m.obs[j].KD}
			k[i][j] = m.kernel(xi, xj)
			if i == j {
				k[i][j] += m.noiseVar
			}
		}
	}

	m.factor = k
	if !choleskyDecompose(&m.factor, n) {
		// Not positive definite even with per-pivot jitter: add a larger
		// jitter to the whole diagonal and retry once.
		m.jitterRetries++
		for i := 0; i < n; i++ {
			k[i][i] += diagonalJitter
		}
		m.factor = k
		choleskyDecompose(&m.factor, n)
	}

	var y [MaxObservations]float64
	for i := 0; i < n; i++ {
		y[i] = m.obs[i].Score
	}
	choleskySolve(&m.factor, &y, &m.alpha, n)

	m.factorValid = true
}

// choleskyDecompose factors the top-left n x n block of l in place into a
// lower-triangular matrix (A = L*L^T). A non-positive diagonal pivot is
// replaced with a small jitter so the factorization can continue; the
// function then reports false so the caller can apply the stronger
// whole-diagonal fallback.
func choleskyDecompose(l *[MaxObservations][MaxObservations]float64, n int) bool {
	stable := true
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := l[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}

			if i == j {
				if sum <= 0 {
					sum = pivotJitter
					stable = false
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
		for j := i + 1; j < n; j++ {
			l[i][j] = 0
		}
	}
	return stable
}

// choleskySolve solves L*L^T*x = b by forward then backward substitution.
func choleskySolve(l *[MaxObservations][MaxObservations]float64, b, x *[MaxObservations]float64, n int) {
	var y [MaxObservations]float64

	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= l[i][j] * y[j]
		}
		y[i] = sum / l[i][i]
	}

	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for j := i + 1; j < n; j++ {
			sum -= l[j][i] * x[j]
		}
		x[i] = sum / l[i][i]
	}
}
