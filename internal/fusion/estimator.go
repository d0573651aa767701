package fusion

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Confidence model constants. Confidence blends reading consistency (low
// spread) with recency (how many accepted samples have accumulated), capped
// below 1 because a cheap radar never deserves full trust.
const (
	confidenceCap        = 0.95
	consistencyWeight    = 0.7
	recencyWeight        = 0.3
	recencyFullSamples   = 10
	insufficientDataConf = 0.30
)

// Distance category labels for operator display.
const (
	CategoryVeryClose = "VERY CLOSE"
	CategoryClose     = "CLOSE"
	CategoryMedium    = "MEDIUM"
	CategoryFar       = "FAR"
	CategoryNone      = "N/A"
)

// Estimate is a smoothed distance value with a confidence score.
type Estimate struct {
	ValueMeters float64
	Confidence  float64
	SampleCount int
	ComputedAt  time.Time
}

// Estimator produces distance estimates from outlier-filtered samples and
// keeps the bounded history of accepted samples that feeds the confidence
// score.
type Estimator struct {
	accepted *History[float64]
}

// NewEstimator creates an Estimator whose accepted-sample history holds
// historyCap entries.
func NewEstimator(historyCap int) *Estimator {
	return &Estimator{accepted: NewHistory[float64](historyCap)}
}

// Update consumes the outcome of one OutlierFilter.Offer call. The accepted
// sample (if any) is recorded in the detection history; when the filtered
// window carries enough samples a fresh estimate is computed and ok is true.
func (e *Estimator) Update(sample float64, accepted bool, filtered []float64, at time.Time) (est Estimate, ok bool) {
	if accepted {
		e.accepted.Push(sample)
	}
	if len(filtered) < minFilterSamples {
		return Estimate{}, false
	}

	value := weightedAverage(filtered)
	if value <= 0 {
		return Estimate{}, false
	}

	return Estimate{
		ValueMeters: value,
		Confidence:  e.confidence(),
		SampleCount: e.accepted.Len(),
		ComputedAt:  at,
	}, true
}

// DetectionCount returns the number of accepted filtered-distance samples
// accumulated so far.
func (e *Estimator) DetectionCount() int {
	return e.accepted.Len()
}

// AcceptedValues returns a copy of the accepted-sample history, oldest first.
func (e *Estimator) AcceptedValues() []float64 {
	return e.accepted.Values()
}

// confidence scores the current history. With fewer than minFilterSamples
// accepted samples the score is pinned at the insufficient-data floor.
func (e *Estimator) confidence() float64 {
	values := e.accepted.Values()
	if len(values) < minFilterSamples {
		return insufficientDataConf
	}

	stddev := stat.StdDev(values, nil)
	consistency := math.Max(0, 1-stddev/2)
	recency := math.Min(1, float64(len(values))/recencyFullSamples)

	return math.Min(confidenceCap, consistencyWeight*consistency+recencyWeight*recency)
}

// weightedAverage computes a recency-weighted average: ascending integer
// weights 1..k, oldest lightest. The result is rounded to centimeter
// precision.
func weightedAverage(samples []float64) float64 {
	var sum, weightSum float64
	for i, v := range samples {
		w := float64(i + 1)
		sum += v * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return math.Round(sum/weightSum*100) / 100
}

// Category maps a distance value to its operator-facing label.
func Category(meters float64) string {
	switch {
	case meters < 1.0:
		return CategoryVeryClose
	case meters < 2.0:
		return CategoryClose
	case meters < 4.0:
		return CategoryMedium
	default:
		return CategoryFar
	}
}
