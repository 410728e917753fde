package degradation

import "math"

// Estimator defaults.
const (
	DefaultForgettingFactor  = 0.95
	DefaultInitialCovariance = 1000.0
	DefaultRegularization    = 1e-6
)

// Vec is the feature vector [1, lap_in_stint].
type Vec [2]float64

// Features returns the feature vector for a lap within a stint.
func Features(lapInStint int) Vec {
	return Vec{1, float64(lapInStint)}
}

func (v Vec) dot(w Vec) float64 { return v[0]*w[0] + v[1]*w[1] }

// RLS is a recursive least squares estimator with exponential forgetting.
// The zero value is not usable; call NewRLS.
type RLS struct {
	lambda  float64
	reg     float64
	initCov float64

	theta Vec
	p     [2][2]float64

	n            int
	residualSum  float64
	lastResidual float64
}

// NewRLS returns an estimator with θ = 0 and P = initialCov·I. Non-positive
// arguments select the package defaults; lambda is capped at 1.
func NewRLS(lambda, initialCov, reg float64) *RLS {
	if lambda <= 0 {
		lambda = DefaultForgettingFactor
	}
	if lambda > 1 {
		lambda = 1
	}
	if initialCov <= 0 {
		initialCov = DefaultInitialCovariance
	}
	if reg <= 0 {
		reg = DefaultRegularization
	}
	r := &RLS{lambda: lambda, reg: reg, initCov: initialCov}
	r.Reset()
	return r
}

// Update folds the observation (x, y) into the estimate and returns the
// a-priori residual y − θ·x.
func (r *RLS) Update(x Vec, y float64) float64 {
	err := y - r.Predict(x)

	// Px and xᵀP.
	px := Vec{
		r.p[0][0]*x[0] + r.p[0][1]*x[1],
		r.p[1][0]*x[0] + r.p[1][1]*x[1],
	}
	xp := Vec{
		x[0]*r.p[0][0] + x[1]*r.p[1][0],
		x[0]*r.p[0][1] + x[1]*r.p[1][1],
	}

	denom := r.lambda + x.dot(px) + r.reg
	k := Vec{px[0] / denom, px[1] / denom}

	r.theta[0] += k[0] * err
	r.theta[1] += k[1] * err

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			r.p[i][j] = (r.p[i][j] - k[i]*xp[j]) / r.lambda
		}
	}
	off := (r.p[0][1] + r.p[1][0]) / 2
	r.p[0][1], r.p[1][0] = off, off
	r.p[0][0] += r.reg
	r.p[1][1] += r.reg

	r.n++
	r.residualSum += err * err
	r.lastResidual = err
	return err
}

// Predict returns θ·x.
func (r *RLS) Predict(x Vec) float64 {
	return r.theta.dot(x)
}

// PredictWithUncertainty returns θ·x and √(xᵀPx).
func (r *RLS) PredictWithUncertainty(x Vec) (pred, std float64) {
	px := Vec{
		r.p[0][0]*x[0] + r.p[0][1]*x[1],
		r.p[1][0]*x[0] + r.p[1][1]*x[1],
	}
	return r.Predict(x), math.Sqrt(math.Max(0, x.dot(px)))
}

// WarmStart seeds θ = [base, slope] and P = uncertainty·I. Observation
// counters are left untouched.
func (r *RLS) WarmStart(base, slope, uncertainty float64) {
	r.theta = Vec{base, slope}
	r.p = [2][2]float64{{uncertainty, 0}, {0, uncertainty}}
}

// Reset returns the estimator to θ = 0, P = initialCov·I with no observations.
func (r *RLS) Reset() {
	r.theta = Vec{}
	r.p = [2][2]float64{{r.initCov, 0}, {0, r.initCov}}
	r.n = 0
	r.residualSum = 0
	r.lastResidual = 0
}

// BasePace is the intercept θ[0].
func (r *RLS) BasePace() float64 { return r.theta[0] }

// DegSlope is the degradation rate θ[1] in seconds per lap.
func (r *RLS) DegSlope() float64 { return r.theta[1] }

// Updates is the number of observations folded in since the last Reset.
func (r *RLS) Updates() int { return r.n }

// LastResidual is the residual returned by the most recent Update.
func (r *RLS) LastResidual() float64 { return r.lastResidual }

// RMSE is the root mean squared a-priori residual, 0 before any update.
func (r *RLS) RMSE() float64 {
	if r.n == 0 {
		return 0
	}
	return math.Sqrt(r.residualSum / float64(r.n))
}

// Covariance returns a copy of P.
func (r *RLS) Covariance() [2][2]float64 { return r.p }
