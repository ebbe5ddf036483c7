package control

import (
	"math"
	"testing"

	"github.com/dmgualb/HMC-T1/calib"
)

func approxEqual(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (tol %v)", name, got, want, tol)
	}
}

func TestComputeCurvesFitsThroughCalibrationPoints(t *testing.T) {
	d := calib.Data{
		TGSComp:       0.0,
		CellH2_50ppm:  2.5,
		CellH2_100ppm: 5.0,
		TGSH2_50ppm:   1.0,
		TGSH2_100ppm:  2.0,
		TGSCH4_50ppm:  1.0,
		TGSCH4_100ppm: 2.0,
	}
	c, err := computeCurves(d)
	if err != nil {
		t.Fatalf("computeCurves: %v", err)
	}

	// cellH2->ppmH2 is linear through (0,0),(2.5,50),(5.0,100): identity*20.
	approxEqual(t, "cellH2ToPPMH2(2.5)", c.cellH2ToPPMH2[0]*2.5+c.cellH2ToPPMH2[1], 50.0, 1e-6)
	approxEqual(t, "cellH2ToPPMH2(5.0)", c.cellH2ToPPMH2[0]*5.0+c.cellH2ToPPMH2[1], 100.0, 1e-6)

	if c.tgsComp != 0.0 {
		t.Errorf("tgsComp = %v, want 0.0", c.tgsComp)
	}
}

func TestComputeCurvesAppliesTGSComp(t *testing.T) {
	d := calib.Data{
		TGSComp:       0.2,
		CellH2_50ppm:  2.5,
		CellH2_100ppm: 5.0,
		TGSH2_50ppm:   1.0,
		TGSH2_100ppm:  2.0,
		TGSCH4_50ppm:  1.0,
		TGSCH4_100ppm: 2.0,
	}
	c, err := computeCurves(d)
	if err != nil {
		t.Fatalf("computeCurves: %v", err)
	}
	if c.tgsComp != 0.2 {
		t.Errorf("tgsComp = %v, want 0.2", c.tgsComp)
	}
}

func TestPPMRoundTripsThroughFittedCurves(t *testing.T) {
	d := calib.Data{
		TGSComp:       0.0,
		CellH2_50ppm:  2.5,
		CellH2_100ppm: 5.0,
		TGSH2_50ppm:   1.0,
		TGSH2_100ppm:  2.0,
		TGSCH4_50ppm:  1.0,
		TGSCH4_100ppm: 2.0,
	}
	c, err := computeCurves(d)
	if err != nil {
		t.Fatalf("computeCurves: %v", err)
	}

	h2ppm, _ := c.ppm(2.5, 0)
	approxEqual(t, "h2ppm at cellH2=2.5", h2ppm, 50.0, 1e-6)
}

func TestComputeCurvesRejectsDegenerateFit(t *testing.T) {
	// all-zero 50/100ppm points make the x-values of the first fit
	// (cellH2->ppmH2, PolyFit1) coincide at 0, so that fit is singular and
	// computeCurves fails before reaching the PolyFit2 fits.
	d := calib.Data{
		TGSComp:       0.0,
		CellH2_50ppm:  0.0,
		CellH2_100ppm: 0.0,
		TGSH2_50ppm:   0.0,
		TGSH2_100ppm:  0.0,
		TGSCH4_50ppm:  0.0,
		TGSCH4_100ppm: 0.0,
	}
	if _, err := computeCurves(d); err == nil {
		t.Fatal("expected error for degenerate calibration points")
	}
}
