package recorder

const (
	DefaultRateSamples = 30
	DefaultFrameRate   = 24.0
)

// RateEstimator infers a track's frame rate from the spacing of frame
// timestamps. It keeps the last `window` inter-frame deltas, in seconds.
type RateEstimator struct {
	window   int
	fallback float64

	last    float64
	hasLast bool

	deltas []float64
	next   int
	sum    float64
}

func NewRateEstimator(window int, fallback float64) *RateEstimator {
	if window <= 0 {
		window = DefaultRateSamples
	}
	if fallback <= 0 {
		fallback = DefaultFrameRate
	}
	return &RateEstimator{
		window:   window,
		fallback: fallback,
		deltas:   make([]float64, 0, window),
	}
}

// Observe records the arrival of a frame captured at ts seconds.
func (e *RateEstimator) Observe(ts float64) {
	if !e.hasLast {
		e.last = ts
		e.hasLast = true
		return
	}
	d := ts - e.last
	e.last = ts

	if len(e.deltas) < e.window {
		e.deltas = append(e.deltas, d)
		e.sum += d
		return
	}
	e.sum += d - e.deltas[e.next]
	e.deltas[e.next] = d
	e.next = (e.next + 1) % e.window
}

// Break marks a gap in the timestamps, such as a new track taking over. The
// next Observe starts a new run instead of adding a delta.
func (e *RateEstimator) Break() {
	e.hasLast = false
}

func (e *RateEstimator) Samples() int {
	return len(e.deltas)
}

func (e *RateEstimator) Ready() bool {
	return len(e.deltas) >= e.window
}

// Rate returns 1/mean(deltas) once Ready. A non-positive mean yields the
// fallback rate.
func (e *RateEstimator) Rate() (float64, bool) {
	if !e.Ready() {
		return 0, false
	}
	mean := e.sum / float64(len(e.deltas))
	if mean <= 0 {
		return e.fallback, true
	}
	return 1 / mean, true
}
