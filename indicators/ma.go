package indicators

import "math"

// Every series function returns a slice aligned to its input: out[i]
// describes bar i. Indexes inside the warm-up, or whose window touches a
// non-finite input, hold NaN. Recursive indicators restart their warm-up
// after a non-finite input.

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Defined reports whether v holds a computed value.
func Defined(v float64) bool { return finite(v) }

// eachRun calls fn for every maximal run [start, end) of indexes where ok is true.
func eachRun(n int, ok func(i int) bool, fn func(start, end int)) {
	i := 0
	for i < n {
		if !ok(i) {
			i++
			continue
		}
		start := i
		for i < n && ok(i) {
			i++
		}
		fn(start, i)
	}
}

func finiteAt(values []float64) func(int) bool {
	return func(i int) bool { return finite(values[i]) }
}

// SMA is the simple moving average over period values. First defined at
// index period-1.
func SMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period <= 0 {
		return out
	}
	p := float64(period)
	eachRun(len(values), finiteAt(values), func(s, e int) {
		sum := 0.0
		for i := s; i < e; i++ {
			sum += values[i]
			if i-s >= period {
				sum -= values[i-period]
			}
			if i-s >= period-1 {
				out[i] = sum / p
			}
		}
	})
	return out
}

// EMA is the exponential moving average with smoothing 2/(period+1), seeded
// with the SMA of the first period values. First defined at index period-1.
func EMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period <= 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	eachRun(len(values), finiteAt(values), func(s, e int) {
		if e-s < period {
			return
		}
		seed := 0.0
		for i := s; i < s+period; i++ {
			seed += values[i]
		}
		ema := seed / float64(period)
		out[s+period-1] = ema
		for i := s + period; i < e; i++ {
			ema = (values[i]-ema)*k + ema
			out[i] = ema
		}
	})
	return out
}

// LastValue returns the last value of a series, NaN if empty.
func LastValue(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
