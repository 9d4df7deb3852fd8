package scaling

import "math"

const numFeatures = 8

// sample is one observed (features, subsequent load) training point.
type sample struct {
	features [numFeatures]float64
	target   float64
}

// regressor is a small incremental linear model (predicted = w·x + b)
// trained over a rolling sample window via stochastic gradient descent.
// Plain Go: a single-feature-vector linear model has no third-party need
// beyond a fixed-size ring buffer, and the reference pack carries no ML
// library to reach for instead.
type regressor struct {
	weights [numFeatures]float64
	bias    float64
	lr      float64

	window    []sample
	next      int
	filled    bool
	count     int
	trained   bool
	maeWindow []float64
}

const maeWindowCap = 20

func newRegressor(windowCap int, learningRate float64) *regressor {
	return &regressor{lr: learningRate, window: make([]sample, windowCap)}
}

// add appends one training point, applies one SGD step immediately, and
// triggers a batch retrain every 50 appended points.
func (r *regressor) add(features [numFeatures]float64, target float64) {
	r.window[r.next] = sample{features: features, target: target}
	r.next = (r.next + 1) % len(r.window)
	if r.next == 0 {
		r.filled = true
	}
	r.count++

	pred := r.predict(features)
	r.recordError(math.Abs(target - pred))
	r.step(features, target)

	if r.count%50 == 0 {
		r.retrain()
	}
}

func (r *regressor) step(features [numFeatures]float64, target float64) {
	err := target - r.predict(features)
	for i := range r.weights {
		r.weights[i] += r.lr * err * features[i]
	}
	r.bias += r.lr * err
}

// retrain runs 25 epochs of per-sample (stochastic) gradient descent
// over the current window.
func (r *regressor) retrain() {
	samples := r.samples()
	if len(samples) < 10 {
		return
	}
	for epoch := 0; epoch < 25; epoch++ {
		for _, s := range samples {
			r.step(s.features, s.target)
		}
	}
	r.trained = true
}

func (r *regressor) samples() []sample {
	if !r.filled {
		out := make([]sample, r.next)
		copy(out, r.window[:r.next])
		return out
	}
	out := make([]sample, len(r.window))
	copy(out, r.window[r.next:])
	copy(out[len(r.window)-r.next:], r.window[:r.next])
	return out
}

func (r *regressor) predict(features [numFeatures]float64) float64 {
	v := r.bias
	for i, f := range features {
		v += r.weights[i] * f
	}
	return v
}

func (r *regressor) recordError(e float64) {
	r.maeWindow = append(r.maeWindow, e)
	if len(r.maeWindow) > maeWindowCap {
		r.maeWindow = r.maeWindow[len(r.maeWindow)-maeWindowCap:]
	}
}

func (r *regressor) mae() float64 {
	if len(r.maeWindow) == 0 {
		return math.MaxFloat64
	}
	sum := 0.0
	for _, e := range r.maeWindow {
		sum += e
	}
	return sum / float64(len(r.maeWindow))
}

// ready reports whether the regressor's recent MAE has dropped below the
// guard band, the condition under which its prediction may replace raw
// metrics in the overload check.
func (r *regressor) ready(guardBand float64) bool {
	return r.trained && r.mae() < guardBand
}
