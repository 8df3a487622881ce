package indicators

// RSI is Wilder's relative strength index, bounded [0,100]. The first value
// (index period) averages the first period price changes; later values use
// Wilder smoothing. A window with no movement reads 50.
func RSI(closes []float64, period int) []float64 {
	out := undefined(len(closes))
	if period <= 0 {
		return out
	}
	p := float64(period)
	eachRun(len(closes), finiteAt(closes), func(s, e int) {
		if e-s <= period {
			return
		}
		var gain, loss float64
		for i := s + 1; i <= s+period; i++ {
			g, l := change(closes[i-1], closes[i])
			gain += g
			loss += l
		}
		gain /= p
		loss /= p
		out[s+period] = rsiValue(gain, loss)

		for i := s + period + 1; i < e; i++ {
			g, l := change(closes[i-1], closes[i])
			gain = (gain*(p-1) + g) / p
			loss = (loss*(p-1) + l) / p
			out[i] = rsiValue(gain, loss)
		}
	})
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(gain, loss float64) float64 {
	if gain+loss == 0 {
		return 50
	}
	return 100 * gain / (gain + loss)
}

// MACDSeries holds the three aligned MACD outputs.
type MACDSeries struct {
	Line   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes EMA(fast)-EMA(slow), its EMA signal line and the histogram.
// The line is first defined at slow-1 and the signal at slow+signal-2.
func MACD(closes []float64, fast, slow, signal int) MACDSeries {
	if fast > slow {
		fast, slow = slow, fast
	}
	ef := EMA(closes, fast)
	es := EMA(closes, slow)

	line := undefined(len(closes))
	for i := range closes {
		if finite(ef[i]) && finite(es[i]) {
			line[i] = ef[i] - es[i]
		}
	}
	sig := EMA(line, signal)
	hist := undefined(len(closes))
	for i := range closes {
		if finite(line[i]) && finite(sig[i]) {
			hist[i] = line[i] - sig[i]
		}
	}
	return MACDSeries{Line: line, Signal: sig, Hist: hist}
}

// Momentum is the percent change of close over period bars.
func Momentum(closes []float64, period int) []float64 {
	out := undefined(len(closes))
	if period <= 0 {
		return out
	}
	for i := period; i < len(closes); i++ {
		prev, cur := closes[i-period], closes[i]
		if !finite(prev) || !finite(cur) || prev == 0 {
			continue
		}
		out[i] = (cur - prev) / prev * 100
	}
	return out
}
