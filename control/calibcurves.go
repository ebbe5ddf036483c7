package control

import (
	"github.com/dmgualb/HMC-T1/calib"
	"github.com/dmgualb/HMC-T1/mathx"
	"github.com/pkg/errors"
)

// curves holds the three fitted conversion polynomials computed from a
// calib.Data snapshot, grounded on hmc_master.py's compute_calib_curves:
// highest-degree-first coefficients, matching mathx.PolyEval's
// convention.
type curves struct {
	cellH2ToPPMH2  [2]float64 // degree 1: a*x + b
	ppmH2ToTGSADC  [3]float64 // degree 2: a*x^2 + b*x + c
	tgsADCToPPMCH4 [3]float64 // degree 2: a*x^2 + b*x + c
	tgsComp        float64    // still-air compensation baked into the fit points above
}

// computeCurves fits the three calibration polynomials through the
// origin and the 50/100ppm calibration points, per spec §4.6.
func computeCurves(d calib.Data) (curves, error) {
	var c curves

	a1, b1, err := mathx.PolyFit1(
		[]float64{0.0, d.CellH2_50ppm, d.CellH2_100ppm},
		[]float64{0.0, 50.0, 100.0},
	)
	if err != nil {
		return c, errors.Wrap(err, "control: cellH2->ppmH2 fit")
	}
	c.cellH2ToPPMH2 = [2]float64{a1, b1}

	a2, b2, c2, err := mathx.PolyFit2(
		[]float64{0.0, 50.0, 100.0},
		[]float64{0.0, d.TGSH2_50ppm + d.TGSComp, d.TGSH2_100ppm + d.TGSComp},
	)
	if err != nil {
		return c, errors.Wrap(err, "control: ppmH2->tgsADC fit")
	}
	c.ppmH2ToTGSADC = [3]float64{a2, b2, c2}

	a3, b3, c3, err := mathx.PolyFit2(
		[]float64{0.0, d.TGSCH4_50ppm + d.TGSComp, d.TGSCH4_100ppm + d.TGSComp},
		[]float64{0.0, 50.0, 100.0},
	)
	if err != nil {
		return c, errors.Wrap(err, "control: tgsADC->ppmCH4 fit")
	}
	c.tgsADCToPPMCH4 = [3]float64{a3, b3, c3}
	c.tgsComp = d.TGSComp

	return c, nil
}

// ppm computes (h2ppm, ch4ppm) from raw H2/CH4 ADC readings, per spec
// §4.6's "h2ppm = eval(cellH2→ppmH2, h2adc); h2adj = eval(ppmH2→tgsADC,
// h2ppm); ch4ppm = eval(tgsADC→ppmCH4, (ch4adc+20e-3)−h2adj)".
func (c curves) ppm(h2adc, ch4adc float64) (h2ppm, ch4ppm float64) {
	h2ppm = mathx.PolyEval(c.cellH2ToPPMH2[:], h2adc)
	h2adj := mathx.PolyEval(c.ppmH2ToTGSADC[:], h2ppm)
	ch4ppm = mathx.PolyEval(c.tgsADCToPPMCH4[:], (ch4adc+20e-3)-h2adj)
	return h2ppm, ch4ppm
}
