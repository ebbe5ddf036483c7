package mathx

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestRound(t *testing.T) {
	cases := []struct {
		x, unit, want float64
	}{
		{1.23, 0.1, 1.2},
		{1.25, 0.1, 1.3},
		{1.005, 0.01, 1.0},
	}
	for _, c := range cases {
		if got := Round(c.x, c.unit); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Round(%v, %v) = %v, want %v", c.x, c.unit, got, c.want)
		}
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		name string
		vals []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{1, 2, 3, 4}, 2.5},
		{"ignores NaN", []float64{1, nan(), 3}, 2},
		{"empty", nil, nan()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Median(c.vals)
			if got != got && c.want != c.want {
				return // both NaN
			}
			if got != c.want {
				t.Errorf("Median(%v) = %v, want %v", c.vals, got, c.want)
			}
		})
	}
}

func TestPolyFit1(t *testing.T) {
	// y = 2x + 1, exactly.
	xs := []float64{0, 1, 2, 3}
	ys := []float64{1, 3, 5, 7}
	a, b, err := PolyFit1(xs, ys)
	if err != nil {
		t.Fatalf("PolyFit1: %v", err)
	}
	if diff := cmp.Diff(2.0, a, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("a mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1.0, b, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("b mismatch (-want +got):\n%s", diff)
	}
}

func TestPolyFit1RejectsMismatchedLengths(t *testing.T) {
	if _, _, err := PolyFit1([]float64{0, 1}, []float64{0}); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestPolyFit2ExactQuadratic(t *testing.T) {
	// y = x^2 - 2x + 1, sampled exactly at 4 points (overdetermined, but
	// consistent, so the least-squares fit recovers it exactly).
	xs := []float64{0, 1, 2, 3}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = x*x - 2*x + 1
	}
	a, b, c, err := PolyFit2(xs, ys)
	if err != nil {
		t.Fatalf("PolyFit2: %v", err)
	}
	got := []float64{a, b, c}
	want := []float64{1, -2, 1}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("coefficients mismatch (-want +got):\n%s", diff)
	}
}

func TestPolyFit2RequiresThreePoints(t *testing.T) {
	if _, _, _, err := PolyFit2([]float64{0, 1}, []float64{0, 1}); err == nil {
		t.Fatal("expected error for fewer than 3 points")
	}
}

func TestPolyEval(t *testing.T) {
	// 2x^2 + 3x + 4 at x=5 -> 50+15+4 = 69
	got := PolyEval([]float64{2, 3, 4}, 5)
	if got != 69 {
		t.Errorf("PolyEval = %v, want 69", got)
	}
}

func TestFindPeaksHeightAndSpacing(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8}
	ys := []float64{0, 1, 0, 5, 0, 1, 0, 6, 0}
	peaks := FindPeaks(xs, ys, 0.5, 1.0)
	if len(peaks) != 4 {
		t.Fatalf("got %d peaks, want 4: %+v", len(peaks), peaks)
	}
	var gotX []float64
	for _, p := range peaks {
		gotX = append(gotX, p.X)
	}
	if diff := cmp.Diff([]float64{1, 3, 5, 7}, gotX); diff != "" {
		t.Errorf("peak x positions mismatch (-want +got):\n%s", diff)
	}
}

func TestFindPeaksEnforcesMinSpacingByKeepingTaller(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{0, 3, 0, 5, 0}
	peaks := FindPeaks(xs, ys, 0.0, 5.0)
	if len(peaks) != 1 {
		t.Fatalf("got %d peaks, want 1 (spacing should merge them): %+v", len(peaks), peaks)
	}
	if peaks[0].X != 3 {
		t.Errorf("expected the taller peak at x=3 to survive, got x=%v", peaks[0].X)
	}
}
