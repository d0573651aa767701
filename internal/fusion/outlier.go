package fusion

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minFilterSamples is the minimum raw window size before outlier rejection
// kicks in. Below it there is not enough data to compute quartiles, so no
// rejection occurs and estimation is deferred.
const minFilterSamples = 3

// OutlierFilter maintains a short rolling window of raw radar distances and
// rejects samples that fall outside the IQR fence of the window.
type OutlierFilter struct {
	window *History[float64]
}

// NewOutlierFilter creates an OutlierFilter whose rolling window holds
// capacity samples.
func NewOutlierFilter(capacity int) *OutlierFilter {
	return &OutlierFilter{window: NewHistory[float64](capacity)}
}

// Offer records the new sample in the rolling window and reports whether it
// lies inside the IQR fence of the window, along with the in-fence subset of
// the window (oldest first) for the estimator.
//
// Rejected samples stay in the window so they still shape future quartile
// computations. With fewer than minFilterSamples in the window the sample is
// accepted but filtered is nil, signalling that estimation must wait.
func (f *OutlierFilter) Offer(sample float64) (accepted bool, filtered []float64) {
	f.window.Push(sample)

	values := f.window.Values()
	if len(values) < minFilterSamples {
		return true, nil
	}

	lo, hi := iqrFence(values)
	for _, v := range values {
		if v >= lo && v <= hi {
			filtered = append(filtered, v)
		}
	}
	return sample >= lo && sample <= hi, filtered
}

// WindowLen returns the number of samples currently in the rolling window.
func (f *OutlierFilter) WindowLen() int {
	return f.window.Len()
}

// iqrFence computes the accepted range [Q1 - 1.5*IQR, Q3 + 1.5*IQR] over the
// given samples.
func iqrFence(samples []float64) (lo, hi float64) {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}
