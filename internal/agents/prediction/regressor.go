package prediction

import "math"

// numFeatures: hour, day-of-week, is-weekend, three lag terms (t-1,
// t-6, t-24) and a 6-sample rolling mean/std.
const numFeatures = 8

type sample struct {
	features [numFeatures]float64
	target   float64
}

// regressor is a per-(series,metric) incremental linear model: same
// ML-library-free design as internal/agents/scaling's regressor (the
// reference pack carries no ML library), duplicated here rather than
// shared because each model tracks its own weights, window and error
// history independently per model key.
type regressor struct {
	weights      [numFeatures]float64
	bias         float64
	learningRate float64

	windowCap int
	window    []sample
	next      int
	filled    bool
	seen      int

	errWindow []float64
	errNext   int
}

func newRegressor(windowCap int, learningRate float64) *regressor {
	return &regressor{
		learningRate: learningRate,
		windowCap:    windowCap,
		window:       make([]sample, windowCap),
		errWindow:    make([]float64, 0, errWindowCap),
	}
}

const errWindowCap = 24

func (r *regressor) add(features [numFeatures]float64, target float64) {
	pred := r.predict(features)
	r.recordError(target - pred)
	r.step(features, target)

	r.window[r.next] = sample{features: features, target: target}
	r.next = (r.next + 1) % r.windowCap
	if r.next == 0 {
		r.filled = true
	}
	r.seen++

	if r.seen%100 == 0 {
		r.retrain()
	}
}

func (r *regressor) step(features [numFeatures]float64, target float64) {
	pred := r.predict(features)
	err := target - pred
	for i := range r.weights {
		r.weights[i] += r.learningRate * err * features[i]
	}
	r.bias += r.learningRate * err
}

func (r *regressor) samples() []sample {
	if !r.filled {
		return append([]sample(nil), r.window[:r.next]...)
	}
	out := make([]sample, 0, r.windowCap)
	out = append(out, r.window[r.next:]...)
	out = append(out, r.window[:r.next]...)
	return out
}

func (r *regressor) retrain() {
	samples := r.samples()
	if len(samples) < 20 {
		return
	}
	for epoch := 0; epoch < 25; epoch++ {
		for _, s := range samples {
			r.step(s.features, s.target)
		}
	}
}

func (r *regressor) predict(features [numFeatures]float64) float64 {
	v := r.bias
	for i, f := range features {
		v += r.weights[i] * f
	}
	return v
}

func (r *regressor) recordError(e float64) {
	if e < 0 {
		e = -e
	}
	if len(r.errWindow) < errWindowCap {
		r.errWindow = append(r.errWindow, e)
		return
	}
	r.errWindow[r.errNext] = e
	r.errNext = (r.errNext + 1) % errWindowCap
}

// rmse returns the root-mean-square of the recent per-sample errors,
// the basis for the ±2*RMSE confidence interval.
func (r *regressor) rmse() float64 {
	if len(r.errWindow) == 0 {
		return 0.1
	}
	var sumSq float64
	for _, e := range r.errWindow {
		sumSq += e * e
	}
	mean := sumSq / float64(len(r.errWindow))
	return math.Sqrt(mean)
}

// mae is the mean absolute error over the recent error window, used as
// the forecast's accuracy_score input (1/(1+mae)).
func (r *regressor) mae() float64 {
	if len(r.errWindow) == 0 {
		return 0
	}
	var sum float64
	for _, e := range r.errWindow {
		sum += e
	}
	return sum / float64(len(r.errWindow))
}

func (r *regressor) ready() bool {
	return r.seen >= 50
}
