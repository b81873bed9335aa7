package sbc

import "math"

// analysisFilter is a cosine-modulated polyphase analysis filterbank with a
// 10*M tap windowed-sinc prototype, one instance per channel.
type analysisFilter struct {
	m      int
	coef   []float64   // prototype with the polyphase sign pattern applied
	matrix [][]float64 // m x 2m modulation matrix
	x      []float64   // input history, newest sample at index 0
	y      []float64
}

func newAnalysisFilter(m int) *analysisFilter {
	taps := 10 * m
	f := &analysisFilter{
		m:      m,
		coef:   make([]float64, taps),
		matrix: make([][]float64, m),
		x:      make([]float64, taps),
		y:      make([]float64, 2*m),
	}

	// Lowpass prototype with cutoff pi/(2m), centred on tap 5m.
	var sum float64
	proto := make([]float64, taps)
	centre := float64(5 * m)
	for n := 0; n < taps; n++ {
		t := float64(n) - centre
		var sinc float64
		if t == 0 {
			sinc = 1 / float64(2*m)
		} else {
			sinc = math.Sin(math.Pi*t/float64(2*m)) / (math.Pi * t)
		}
		window := 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(taps))
		proto[n] = sinc * window
		sum += proto[n]
	}
	for n := range proto {
		sign := 1.0
		if (n/(2*m))%2 == 1 {
			sign = -1.0
		}
		f.coef[n] = sign * proto[n] / sum
	}

	for k := 0; k < m; k++ {
		f.matrix[k] = make([]float64, 2*m)
		for i := 0; i < 2*m; i++ {
			f.matrix[k][i] = math.Cos((float64(k) + 0.5) * (float64(i) - float64(m)/2) * math.Pi / float64(m))
		}
	}
	return f
}

func (f *analysisFilter) reset() {
	for i := range f.x {
		f.x[i] = 0
	}
}

// process consumes m input samples taken every stride entries of in and
// writes m subband samples to out.
func (f *analysisFilter) process(in []int16, stride int, out []float64) {
	m := f.m
	copy(f.x[m:], f.x[:len(f.x)-m])
	for i := 0; i < m; i++ {
		f.x[m-1-i] = float64(in[i*stride])
	}

	for i := range f.y {
		f.y[i] = 0
	}
	for n, c := range f.coef {
		f.y[n%(2*m)] += c * f.x[n]
	}

	for k := 0; k < m; k++ {
		var s float64
		row := f.matrix[k]
		for i, y := range f.y {
			s += row[i] * y
		}
		out[k] = s
	}
}
