package prediction

import (
	"math"
	"time"
)

const historyCap = 2000

// point is one collected sample for a series (system, or one tenant).
type point struct {
	timestamp time.Time
	metrics   map[string]float64
	hour      int
	dayOfWeek int
}

// history is a bounded append-only log of points for one series.
type history struct {
	points []point
}

func (h *history) add(p point) {
	h.points = append(h.points, p)
	if len(h.points) > historyCap {
		h.points = h.points[len(h.points)-historyCap:]
	}
}

// featuresAt builds the 8-feature vector for index i against metric,
// per _extract_features: requires i>=24 so all three lag terms and the
// 6-point rolling window are available.
func (h *history) featuresAt(i int, metric string) ([numFeatures]float64, bool) {
	if i < 24 || i >= len(h.points) {
		return [numFeatures]float64{}, false
	}
	p := h.points[i]
	isWeekend := 0.0
	if p.dayOfWeek >= 5 {
		isWeekend = 1.0
	}
	lag1 := h.points[i-1].metrics[metric]
	lag6 := h.points[i-6].metrics[metric]
	lag24 := h.points[i-24].metrics[metric]

	var sum, sumSq float64
	for j := i - 6; j < i; j++ {
		v := h.points[j].metrics[metric]
		sum += v
		sumSq += v * v
	}
	mean := sum / 6
	variance := sumSq/6 - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)

	return [numFeatures]float64{
		float64(p.hour), float64(p.dayOfWeek), isWeekend,
		lag1, lag6, lag24,
		mean, std,
	}, true
}

// recentWindow returns the last n values of metric (oldest first),
// excluding the very latest point, for z-score anomaly detection.
func (h *history) recentWindow(metric string, n int) []float64 {
	if len(h.points) < 2 {
		return nil
	}
	end := len(h.points) - 1 // exclude current point
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, h.points[i].metrics[metric])
	}
	return out
}

func (h *history) current(metric string) (float64, bool) {
	if len(h.points) == 0 {
		return 0, false
	}
	return h.points[len(h.points)-1].metrics[metric], true
}
