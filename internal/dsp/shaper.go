package dsp

// Shaper applies a sampled transfer curve. Input in [-1,1] is mapped across
// the curve and linearly interpolated between points; inputs beyond the
// range take the end values. The curve is used verbatim, without
// normalization. An empty curve passes input through.
type Shaper struct {
	curve []float64
}

func NewShaper(curve []float64) *Shaper {
	cp := make([]float64, len(curve))
	copy(cp, curve)
	return &Shaper{curve: cp}
}

func (s *Shaper) Curve() []float64 {
	out := make([]float64, len(s.curve))
	copy(out, s.curve)
	return out
}

func (s *Shaper) Process(x float64) float64 {
	n := len(s.curve)
	switch n {
	case 0:
		return x
	case 1:
		return s.curve[0]
	}
	v := float64(n-1) * (x + 1) / 2
	if v <= 0 {
		return s.curve[0]
	}
	if v >= float64(n-1) {
		return s.curve[n-1]
	}
	k := int(v)
	frac := v - float64(k)
	return s.curve[k]*(1-frac) + s.curve[k+1]*frac
}
