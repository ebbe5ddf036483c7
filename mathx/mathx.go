// Package mathx provides small numeric helpers not worth a dependency.
package mathx

import (
	"errors"
	"sort"
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// Median returns the median of a slice of float64 values, ignoring NaN
// elements. Ties resolve to the average of the two central elements.
// Returns NaN if every element is NaN or the slice is empty.
func Median(vals []float64) float64 {
	clean := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v == v { // false for NaN
			clean = append(clean, v)
		}
	}
	n := len(clean)
	if n == 0 {
		return nan()
	}
	sort.Float64s(clean)
	if n%2 == 1 {
		return clean[n/2]
	}
	return (clean[n/2-1] + clean[n/2]) / 2
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// PolyFit1 returns the least-squares coefficients (a, b) of y = a*x + b
// fitting the given points.
func PolyFit1(xs, ys []float64) (a, b float64, err error) {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0, 0, errors.New("mathx: PolyFit1 requires equal, non-empty x/y slices")
	}
	var sx, sy, sxx, sxy float64
	for i := 0; i < n; i++ {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		sxy += xs[i] * ys[i]
	}
	fn := float64(n)
	denom := fn*sxx - sx*sx
	if denom == 0 {
		return 0, 0, errors.New("mathx: PolyFit1 singular system")
	}
	a = (fn*sxy - sx*sy) / denom
	b = (sy - a*sx) / fn
	return a, b, nil
}

// PolyFit2 returns the least-squares coefficients (a, b, c) of
// y = a*x^2 + b*x + c fitting the given points, solved via the normal
// equations of the Vandermonde system.
func PolyFit2(xs, ys []float64) (a, b, c float64, err error) {
	n := len(xs)
	if n < 3 || n != len(ys) {
		return 0, 0, 0, errors.New("mathx: PolyFit2 requires at least 3 equal-length x/y points")
	}
	// normal equations for [x^2 x 1] basis
	var s0, s1, s2, s3, s4, t0, t1, t2 float64
	for i := 0; i < n; i++ {
		x := xs[i]
		y := ys[i]
		x2 := x * x
		s0++
		s1 += x
		s2 += x2
		s3 += x2 * x
		s4 += x2 * x2
		t0 += y
		t1 += x * y
		t2 += x2 * y
	}
	// solve the 3x3 system:
	// [s4 s3 s2] [a]   [t2]
	// [s3 s2 s1] [b] = [t1]
	// [s2 s1 s0] [c]   [t0]
	m := [3][4]float64{
		{s4, s3, s2, t2},
		{s3, s2, s1, t1},
		{s2, s1, s0, t0},
	}
	sol, err := solve3x3(m)
	if err != nil {
		return 0, 0, 0, err
	}
	return sol[0], sol[1], sol[2], nil
}

func solve3x3(m [3][4]float64) ([3]float64, error) {
	var out [3]float64
	// gaussian elimination with partial pivoting
	for col := 0; col < 3; col++ {
		piv := col
		best := abs(m[col][col])
		for r := col + 1; r < 3; r++ {
			if v := abs(m[r][col]); v > best {
				piv = r
				best = v
			}
		}
		if best == 0 {
			return out, errors.New("mathx: singular 3x3 system")
		}
		m[col], m[piv] = m[piv], m[col]
		for r := 0; r < 3; r++ {
			if r == col {
				continue
			}
			factor := m[r][col] / m[col][col]
			for k := col; k < 4; k++ {
				m[r][k] -= factor * m[col][k]
			}
		}
	}
	for i := 0; i < 3; i++ {
		out[i] = m[i][3] / m[i][i]
	}
	return out, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PolyEval evaluates a polynomial given highest-degree-first coefficients,
// e.g. PolyEval([]float64{a,b,c}, x) == a*x^2 + b*x + c.
func PolyEval(coeffs []float64, x float64) float64 {
	var out float64
	for _, c := range coeffs {
		out = out*x + c
	}
	return out
}

// Peak is a single local maximum found by FindPeaks.
type Peak struct {
	Index  int
	X      float64
	Y      float64
}

// FindPeaks finds local maxima in ys (aligned to xs) with height at least
// minHeight and horizontal spacing at least minSpacing between
// consecutive accepted peaks, in the manner of scipy.signal.find_peaks
// with height and distance constraints. Peaks are returned in ascending
// index order.
func FindPeaks(xs, ys []float64, minHeight, minSpacing float64) []Peak {
	var raw []Peak
	n := len(ys)
	for i := 1; i < n-1; i++ {
		if ys[i] > ys[i-1] && ys[i] >= ys[i+1] && ys[i] >= minHeight {
			raw = append(raw, Peak{Index: i, X: xs[i], Y: ys[i]})
		}
	}
	if len(raw) == 0 {
		return nil
	}
	// enforce spacing by greedily keeping the tallest peak in each
	// conflicting cluster, scanning left to right.
	var kept []Peak
	for _, p := range raw {
		conflict := -1
		for ki, k := range kept {
			if p.X-k.X < minSpacing {
				conflict = ki
				break
			}
		}
		if conflict == -1 {
			kept = append(kept, p)
			continue
		}
		if p.Y > kept[conflict].Y {
			kept[conflict] = p
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].X < kept[j].X })
	return kept
}
