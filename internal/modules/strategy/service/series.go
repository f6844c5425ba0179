package service

import "math"

var nan = math.NaN()

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}
	return out
}

// rolling applies fn to every full window of n values; a window holding NaN yields NaN.
func rolling(xs []float64, n int, fn func(w []float64) float64) []float64 {
	out := nanSeries(len(xs))
	if n <= 0 {
		return out
	}
outer:
	for i := n - 1; i < len(xs); i++ {
		w := xs[i-n+1 : i+1]
		for _, v := range w {
			if math.IsNaN(v) {
				continue outer
			}
		}
		out[i] = fn(w)
	}
	return out
}

func sum(w []float64) float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

func sma(xs []float64, n int) []float64 {
	return rolling(xs, n, func(w []float64) float64 { return sum(w) / float64(len(w)) })
}

func rollingSum(xs []float64, n int) []float64 { return rolling(xs, n, sum) }

func rollingMax(xs []float64, n int) []float64 {
	return rolling(xs, n, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			m = math.Max(m, v)
		}
		return m
	})
}

func rollingMin(xs []float64, n int) []float64 {
	return rolling(xs, n, func(w []float64) float64 {
		m := w[0]
		for _, v := range w[1:] {
			m = math.Min(m, v)
		}
		return m
	})
}

// rsi uses Wilder smoothing of gains and losses; the first bar counts as no change.
func rsi(closes []float64, n int) []float64 {
	up := make([]float64, len(closes))
	down := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			up[i] = d
		} else if d < 0 {
			down[i] = -d
		}
	}
	eu := newWilder(n).series(up)
	ed := newWilder(n).series(down)

	out := make([]float64, len(closes))
	for i := range out {
		switch {
		case math.IsNaN(eu[i]) || math.IsNaN(ed[i]):
			out[i] = nan
		case ed[i] == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+eu[i]/ed[i])
		}
	}
	return out
}

// atr is zero until the first full window, seeded with the mean true range.
func atr(high, low, closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) < n {
		return out
	}
	tr := make([]float64, len(closes))
	for i := range closes {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Abs(high[i]-closes[i-1]))
			tr[i] = math.Max(tr[i], math.Abs(low[i]-closes[i-1]))
		}
	}
	out[n-1] = sum(tr[:n]) / float64(n)
	for i := n; i < len(closes); i++ {
		out[i] = (out[i-1]*float64(n-1) + tr[i]) / float64(n)
	}
	return out
}

// crossOver reports a crossing of a above b at i. NaN never crosses.
func crossOver(a, b []float64, i int) bool {
	return i > 0 && a[i-1] < b[i-1] && a[i] > b[i]
}

func crossUnder(a, b []float64, i int) bool {
	return i > 0 && a[i-1] > b[i-1] && a[i] < b[i]
}
