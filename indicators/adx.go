package indicators

import (
	"math"

	"github.com/rustyeddy/intraday/market"
)

// ADXSeries holds Wilder's average directional index with its two
// directional components. All three are bounded [0,100].
type ADXSeries struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX computes the directional movement system. +DI and -DI are first
// defined at index period, ADX at index 2*period-1.
func ADX(bars []market.Bar, period int) ADXSeries {
	n := len(bars)
	res := ADXSeries{ADX: undefined(n), PlusDI: undefined(n), MinusDI: undefined(n)}
	if period <= 0 {
		return res
	}
	p := float64(period)

	eachRun(n, validAt(bars), func(s, e int) {
		if e-s <= period {
			return
		}
		var tr, pdm, mdm float64
		for i := s + 1; i <= s+period; i++ {
			t, up, down := directional(bars[i], bars[i-1])
			tr += t
			pdm += up
			mdm += down
		}
		tr /= p
		pdm /= p
		mdm /= p

		var dxSum, adx float64
		for i := s + period; i < e; i++ {
			if i > s+period {
				t, up, down := directional(bars[i], bars[i-1])
				tr = (tr*(p-1) + t) / p
				pdm = (pdm*(p-1) + up) / p
				mdm = (mdm*(p-1) + down) / p
			}

			pdi, mdi := 0.0, 0.0
			if tr > 0 {
				pdi = 100 * pdm / tr
				mdi = 100 * mdm / tr
			}
			res.PlusDI[i] = pdi
			res.MinusDI[i] = mdi

			dx := 0.0
			if pdi+mdi > 0 {
				dx = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
			}

			k := i - (s + period) // DX samples seen before this one
			switch {
			case k < period-1:
				dxSum += dx
			case k == period-1:
				adx = (dxSum + dx) / p
				res.ADX[i] = adx
			default:
				adx = (adx*(p-1) + dx) / p
				res.ADX[i] = adx
			}
		}
	})
	return res
}

func directional(cur, prev market.Bar) (tr, plusDM, minusDM float64) {
	up := cur.High - prev.High
	down := prev.Low - cur.Low
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	return trueRange(cur, prev), plusDM, minusDM
}
