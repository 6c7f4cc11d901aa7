// Package indicators implements the technical indicators exposed to rule
// predicates. All functions take an ascending price series and return 0 when
// the series is shorter than the requested period.
package indicators

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// SMASeries returns the rolling SMA for every index where a full window
// exists; the result is len(values)-period+1 long.
func SMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average of the series, seeded with the
// SMA of the first period values.
func EMA(values []float64, period int) float64 {
	s := EMASeries(values, period)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// EMASeries returns the rolling EMA, one entry per index from period-1 on.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	ema := SMA(values[:period], period)
	out = append(out, ema)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI returns Wilder's relative strength index over the given period.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR returns the average true range from aligned high/low/close series.
func ATR(high, low, close []float64, period int) float64 {
	n := len(close)
	if period <= 0 || n < period+1 || len(high) != n || len(low) != n {
		return 0
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := high[i] - low[i]
		tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
		tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		trs = append(trs, tr)
	}
	atr := SMA(trs[:period], period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// HighestHigh returns the maximum of the last period values.
func HighestHigh(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	max := values[len(values)-period]
	for _, v := range values[len(values)-period:] {
		if v > max {
			max = v
		}
	}
	return max
}

// LowestLow returns the minimum of the last period values.
func LowestLow(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	min := values[len(values)-period]
	for _, v := range values[len(values)-period:] {
		if v < min {
			min = v
		}
	}
	return min
}

// AvgVolume returns the mean of the last period volumes.
func AvgVolume(volumes []float64, period int) float64 {
	return SMA(volumes, period)
}

// ChangePercent returns the percent change from the first to the last value.
func ChangePercent(values []float64) float64 {
	if len(values) < 2 || values[0] == 0 {
		return 0
	}
	return (values[len(values)-1] - values[0]) / values[0] * 100
}

// CrossedAbove reports whether series a crossed above series b at the most
// recent index. Both series must be aligned and at least 2 long.
func CrossedAbove(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	return a[n-2] <= b[n-2] && a[n-1] > b[n-1]
}
