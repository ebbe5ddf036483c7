package control

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmgualb/HMC-T1/actuator"
	"github.com/dmgualb/HMC-T1/calib"
	"github.com/dmgualb/HMC-T1/config"
	"github.com/pkg/errors"
)

// Operation selects which procedure Run drives to completion, matching
// hmc_master.py's --wash/--fill/--empty/--home/--breath-open/--boot CLI
// switches.
type Operation string

const (
	OpBoot       Operation = "boot"
	OpExam       Operation = "exam"
	OpWash       Operation = "wash"
	OpFill       Operation = "fill"
	OpEmpty      Operation = "empty"
	OpHome       Operation = "home"
	OpBreathOpen Operation = "breath-open"
)

// Controller is the Process Controller: a Command/Data Service client
// that also owns the Actuator link, sequencing procedures per spec §4.6.
type Controller struct {
	cmd  *Client
	data *Client
	act  *actuator.Actuator

	calib  *calib.Watcher
	curves curves

	cfg  config.Controller
	proc ProcedureParams

	// washCycles and fillVolume parametrize OpWash/OpFill; set via
	// SetWashCycles/SetFillVolume before calling Run, matching the CLI's
	// "wash N"/"fill V" arguments (spec §6).
	washCycles int
	fillVolume int

	abort chan struct{}
}

// SetWashCycles configures the cycle count for a subsequent OpWash Run.
func (c *Controller) SetWashCycles(n int) { c.washCycles = n }

// SetFillVolume configures the target syringe position for a subsequent
// OpFill Run.
func (c *Controller) SetFillVolume(v int) { c.fillVolume = v }

// New wires a Controller from its configuration, an already-open
// Actuator, and a live calibration file watcher. The fitted curves are
// (re)computed from the watcher's current data at the start of each
// WAIT_BASELINES iteration, so an operator edit to the calibration file
// takes effect without restarting the controller.
func New(cfg config.Controller, act *actuator.Actuator, proc ProcedureParams, calibWatcher *calib.Watcher) *Controller {
	cmdAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.CmdPort)
	dataAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.DataPort)
	return &Controller{
		cmd:   NewClient(cmdAddr),
		data:  NewClient(dataAddr),
		act:   act,
		calib: calibWatcher,
		cfg:   cfg,
		proc:  proc,
		abort: make(chan struct{}),
	}
}

// Abort signals every polling loop in Run to stop at its next check.
func (c *Controller) Abort() { close(c.abort) }

// Close releases the command/data connections. The actuator link is
// owned by the caller and is not closed here.
func (c *Controller) Close() {
	c.cmd.Close()
	c.data.Close()
}

func (c *Controller) beep(seconds float64) {
	c.cmd.Command(fmt.Sprintf(":SYST:BEEP %g", seconds))
}

// stripUnit removes exactly one trailing unit letter (V, C, or %) from a
// formatted reply, the client-side mirror of the wire format's
// "<value><unit>" convention (spec §6).
func stripUnit(s string) string {
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case 'V', 'C', '%':
		return s[:len(s)-1]
	}
	return s
}

func parseReply(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "ERR") {
		return 0, errors.Errorf("control: %s", s)
	}
	return strconv.ParseFloat(stripUnit(s), 64)
}

// readValue implements the client side of ":CMD:READ? <label>[, ...]".
func (c *Controller) readValue(label string, rest ...string) (float64, error) {
	req := ":CMD:READ? " + label
	if len(rest) > 0 {
		req += ", " + strings.Join(rest, ", ")
	}
	reply, err := c.cmd.Query(req)
	if err != nil {
		return 0, err
	}
	return parseReply(reply)
}

// driftMvPerMin implements the client side of ":CMD:BASE:DRIFT? <label>,
// 60.0", converted to mV/min the way h2_baseline_drift/tgs_baseline_drift
// do (the sensor's native unit is volts; *1e3 reports millivolts).
func (c *Controller) driftMvPerMin(label string) (float64, error) {
	reply, err := c.cmd.Query(fmt.Sprintf(":CMD:BASE:DRIFT? %s, 60.0", label))
	if err != nil {
		return 0, err
	}
	reply = strings.TrimSuffix(strings.TrimSpace(reply), "/min")
	v, err := parseReply(reply)
	if err != nil {
		return 0, err
	}
	return v * 1e3, nil
}

// peak implements the client side of ":CMD:PEAK? <label>, <t0>, <interval>".
func (c *Controller) peak(label string, t0, interval float64) (t, v float64, err error) {
	reply, err := c.cmd.Query(fmt.Sprintf(":CMD:PEAK? %s, %g, %g", label, t0, interval))
	if err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(reply, ",", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("control: malformed peak reply %q", reply)
	}
	t, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, err
	}
	v, err = parseReply(parts[1])
	return t, v, err
}

// Run drives op to completion (or until Abort is called), returning an
// error only on a fatal/unexpected condition; an aborted run returns
// nil, matching EXIT's "Terminate tests" non-error exit in the original.
func (c *Controller) Run(op Operation) error {
	switch op {
	case OpWash:
		return c.runWash()
	case OpFill:
		return c.runFill()
	case OpEmpty:
		return c.runEmpty()
	case OpHome:
		return c.runHome()
	case OpBreathOpen:
		return c.runBreathOpen()
	default:
		return c.runExamLoop(op == OpBoot)
	}
}

// runExamLoop implements INIT -> TEMP_STABILIZING -> WAIT_BASELINES ->
// (still-air calibration, once, if boot) -> operator gate -> EXAM_* ->
// back to WAIT_BASELINES, looping until Abort.
func (c *Controller) runExamLoop(boot bool) error {
	announce("INIT")
	curves, err := c.init()
	if err != nil {
		return err
	}
	c.curves = curves

	setp, err := c.readSetpoints()
	if err != nil {
		return err
	}

	announce("TEMP_STABILIZING")
	if err := c.waitTempStable(setp); err != nil {
		if err == errAborted {
			return nil
		}
		return err
	}
	c.beep(1.0)

	doBoot := boot
	for {
		announce("WAIT_BASELINES")
		if curves, err := computeCurves(c.calib.Data()); err == nil {
			c.curves = curves
		} else {
			warn("recalibration failed, keeping previous curves: %v", err)
		}
		tstart := time.Now()
		if err := c.waitBaselines(tstart); err != nil {
			if err == errAborted {
				return nil
			}
			return err
		}

		if doBoot {
			doBoot = false
			announce("CALIB_B0_WAIT_DRIFT")
			if err := c.runStillAirCalibration(); err != nil {
				if err == errAborted {
					return nil
				}
				return err
			}
			continue
		}

		c.beep(1.0)
		ok("Baselines STABLE! READY FOR EXAM!")
		if err := waitEnter(c.abort, "Press ENTER to start exam:> "); err != nil {
			if err == errAborted {
				return nil
			}
			return err
		}

		announce("EXAM_START")
		if err := c.SetValves(valvesExamReady); err != nil {
			return err
		}
		if err := c.runExam(); err != nil {
			if err == errAborted {
				return nil
			}
			return err
		}
	}
}

func (c *Controller) init() (curves, error) {
	names, err := c.data.Query(":DATA:NAMES?")
	if err != nil {
		return curves{}, errors.Wrap(err, "control: data service handshake")
	}
	ok("sensor catalog: %s", names)

	curves, err := computeCurves(c.calib.Data())
	if err != nil {
		return curves, err
	}
	if err := c.SetValves(valvesBoot); err != nil {
		return curves, err
	}
	for _, req := range []string{":pwm3:outp:ena", ":pwm4:outp:ena"} {
		if err := c.cmd.Command(req); err != nil {
			return curves, err
		}
	}
	return curves, nil
}

type setpoints struct {
	ch4, coldside, hotplate float64
}

func (c *Controller) readSetpoints() (setpoints, error) {
	ch4, err := c.readPIDSetpoint(":pwm2:pid:setp?")
	if err != nil {
		return setpoints{}, err
	}
	cold, err := c.readPIDSetpoint(":pwm3:pid:setp?")
	if err != nil {
		return setpoints{}, err
	}
	hot, err := c.readPIDSetpoint(":pwm4:pid:setp?")
	if err != nil {
		return setpoints{}, err
	}
	return setpoints{ch4: ch4, coldside: cold, hotplate: hot}, nil
}

func (c *Controller) readPIDSetpoint(query string) (float64, error) {
	reply, err := c.cmd.Query(query)
	if err != nil {
		return 0, err
	}
	return parseReply(reply)
}

func (c *Controller) waitTempStable(setp setpoints) error {
	spinner, err := waitSpinner("waiting for temperatures to stabilize")
	if err == nil {
		defer spinner.Stop()
	}
	return pollUntil(c.abort, 500*time.Millisecond, func() (bool, error) {
		ch4, err := c.readValue("CH4_TEMP")
		if err != nil {
			return false, err
		}
		cold, err := c.readValue("COLDSIDE_TEMP")
		if err != nil {
			return false, err
		}
		hot, err := c.readValue("HOTPLATE_TEMP")
		if err != nil {
			return false, err
		}
		return fabs(setp.ch4-ch4) < 1.0 && fabs(setp.coldside-cold) < 0.5 && fabs(setp.hotplate-hot) < 3.0, nil
	})
}

// waitBaselines polls CH4/H2 baselines and drifts until both drifts are
// within the configured limits and at least 240s have elapsed.
func (c *Controller) waitBaselines(tstart time.Time) error {
	spinner, err := waitSpinner("waiting for stable baselines")
	if err == nil {
		defer spinner.Stop()
	}
	return pollUntil(c.abort, time.Second, func() (bool, error) {
		ch4Baseline, err := c.readValue("ch4", "max", "2.0")
		if err != nil {
			return false, err
		}
		ch4Drift, err := c.driftMvPerMin("ch4")
		if err != nil {
			return false, err
		}
		h2Baseline, err := c.readValue("h2", "max", "2.0")
		if err != nil {
			return false, err
		}
		h2Drift, err := c.driftMvPerMin("h2")
		if err != nil {
			return false, err
		}
		stable := fabs(ch4Drift) <= c.cfg.CH4BaseDrift && fabs(h2Drift) <= c.cfg.H2BaseDrift
		if spinner != nil {
			ch4State, h2State := "DRIFTING", "DRIFTING"
			if fabs(ch4Drift) <= c.cfg.CH4BaseDrift {
				ch4State = "STABLE"
			}
			if fabs(h2Drift) <= c.cfg.H2BaseDrift {
				h2State = "STABLE"
			}
			spinner.Message(printStatusTable([]statusRow{
				{Label: "CH4 baseline", Value: fmt.Sprintf("%.6f mV  drift %.2f mV/min (%s)", ch4Baseline, ch4Drift, ch4State)},
				{Label: "H2 baseline", Value: fmt.Sprintf("%.6f mV  drift %.2f mV/min (%s)", h2Baseline, h2Drift, h2State)},
			}))
		}
		return stable && time.Since(tstart) >= 240*time.Second, nil
	})
}

// runStillAirCalibration implements the CALIB_B0_WAIT_DRIFT ->
// CALIB_B0_WAIT_T105 still-air baseline compensation sub-flow.
func (c *Controller) runStillAirCalibration() error {
	err := pollUntil(c.abort, time.Second, func() (bool, error) {
		drift, err := c.driftMvPerMin("ch4")
		if err != nil {
			return false, err
		}
		return fabs(drift) <= c.cfg.CH4BaseDrift, nil
	})
	if err != nil {
		return err
	}
	c.beep(1.0)

	if err := c.SetValves(valvesStillOn); err != nil {
		return err
	}
	if _, err := c.cmd.Query(":CMD:TIME:RST"); err != nil {
		return err
	}
	tstart := time.Now()
	tgsBase, err := c.readValue("ch4", "0.0", "1.0")
	if err != nil {
		return err
	}

	announce("CALIB_B0_WAIT_T105")
	err = pollUntil(c.abort, time.Second, func() (bool, error) {
		return time.Since(tstart) >= 107*time.Second, nil
	})
	if err != nil {
		return err
	}

	if err := c.SetValves(valvesBoot); err != nil {
		return err
	}
	tgsT105, err := c.readValue("ch4", "105.5", "1.0")
	if err != nil {
		return err
	}
	tgsComp := tgsT105 - tgsBase
	ok("Baseline compensation CALIBRATED. tgs_base=%.6f tgs_t105=%.6f tgs_comp=%.6f", tgsBase, tgsT105, tgsComp)

	if err := c.calib.SetTGSComp(tgsComp); err != nil {
		return err
	}
	curves, err := computeCurves(c.calib.Data())
	if err != nil {
		return err
	}
	c.curves = curves
	return nil
}

// runExam implements EXAM_START's baseline capture + actuator push,
// EXAM_PUSHING's wait-for-motor-off, and EXAM_WAIT_T107's result
// computation.
func (c *Controller) runExam() error {
	tgsBaseline, err := c.readValue("ch4", "max", "1.0")
	if err != nil {
		return err
	}
	h2Baseline, err := c.readValue("h2", "max", "1.0")
	if err != nil {
		return err
	}
	o2Baseline, err := c.readValue("o2", "max", "1.0")
	if err != nil {
		return err
	}

	if err := c.act.MoveTo(c.proc.FillPosition); err != nil {
		return errors.Wrap(err, "control: exam push")
	}

	announce("EXAM_PUSHING")
	if _, err := c.cmd.Query(":CMD:TIME:RST"); err != nil {
		return err
	}
	if err := c.SetValves(valvesStillOn); err != nil {
		return err
	}
	tstart := time.Now()

	announce("EXAM_WAIT_T107")
	if err := pollUntil(c.abort, time.Second, func() (bool, error) {
		return time.Since(tstart) >= 107*time.Second, nil
	}); err != nil {
		return err
	}

	o2T105, err := c.readValue("o2", "105.0", "1.0")
	if err != nil {
		return err
	}
	tgsT105, err := c.readValue("ch4", "105.0", "1.0")
	if err != nil {
		return err
	}
	_, h2Peak, err := c.peak("h2", -60, 1200.0)
	if err != nil {
		return err
	}
	if err := c.SetValves(valvesBoot); err != nil {
		return err
	}

	o2Val := o2T105 - o2Baseline
	tgsVal := (tgsT105 - tgsBaseline) + c.curves.tgsComp
	h2Val := h2Peak - h2Baseline

	h2ppm, ch4ppm := c.curves.ppm(h2Val, tgsVal)
	ok("H2 = %.2f ppm, CH4 = %.2f ppm (O2 %.2f%%)", h2ppm, ch4ppm, o2Val)
	c.beep(1.5)
	return nil
}

func fabs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
