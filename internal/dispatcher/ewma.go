package dispatcher

import "math"

// ewma is an exponential weighted moving average parameterized by a
// half-life in weight units (here, transfer-duration milliseconds). It
// corrects for cold-start bias the way a simple running average doesn't:
// get_estimate divides out how much weight has actually accumulated so
// far, rather than assuming steady state from sample one.
type ewma struct {
	alpha        float64
	lastEstimate float64
	totalWeight  float64
}

// newEWMA builds an estimator with half-life h: the weight after which a
// sample's influence on the estimate has decayed by half.
func newEWMA(halfLife float64) *ewma {
	return &ewma{alpha: math.Exp(math.Log(0.5) / halfLife)}
}

// addSample folds in one observation of value weighted by weight (e.g. a
// segment download's bytes/ms observed over weight ms).
func (e *ewma) addSample(weight, value float64) {
	adjAlpha := math.Pow(e.alpha, weight)
	e.lastEstimate = value*(1-adjAlpha) + adjAlpha*e.lastEstimate
	e.totalWeight += weight
}

// estimate returns the current bias-corrected estimate, or 0 if no
// sample has ever been added.
func (e *ewma) estimate() float64 {
	if e.totalWeight == 0 {
		return 0
	}
	zeroFactor := 1 - math.Pow(e.alpha, e.totalWeight)
	return e.lastEstimate / zeroFactor
}
