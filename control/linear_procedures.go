package control

import "github.com/pkg/errors"

// runWash implements the WASH_START/WASH_FILLING/WASH_EMPTYING linear
// sequence: set the wash valve configuration (valvesWashFillEmpty), fill,
// set the same configuration again, empty, repeat washCycles times, per hmc_master.py's WASH_* states. The
// actuator's own MoveTo already polls until motor-off, collapsing the
// original's separate WASH_FILLING/WASH_EMPTYING wait states into one
// blocking call each.
func (c *Controller) runWash() error {
	if c.washCycles <= 0 {
		return errors.New("control: wash requires at least one cycle")
	}
	if err := c.act.SetSpeed(c.proc.WashFillSpeed); err != nil {
		return err
	}
	for i := 0; i < c.washCycles; i++ {
		if err := c.SetValves(valvesWashFillEmpty); err != nil {
			return err
		}
		if err := c.act.MoveTo(c.proc.WashFillPos); err != nil {
			return errors.Wrap(err, "control: wash fill")
		}
		if err := c.SetValves(valvesWashFillEmpty); err != nil {
			return err
		}
		if err := c.act.MoveTo(0); err != nil {
			return errors.Wrap(err, "control: wash empty")
		}
	}
	c.beep(1.0)
	return c.SetValves(valvesSensorsOnly)
}

// runFill implements FILL_START/WAIT_FILLING: partial-volume fill, then
// close the syringe valve.
func (c *Controller) runFill() error {
	if err := c.act.SetSpeed(c.proc.FillSpeed); err != nil {
		return err
	}
	if err := c.SetValves(valvesFillAllOpen); err != nil {
		return err
	}
	if err := c.act.MoveTo(c.fillVolume); err != nil {
		return errors.Wrap(err, "control: fill")
	}
	if err := c.SetValves(valvesSensorsOnly); err != nil {
		return err
	}
	c.beep(1.0)
	return nil
}

// runEmpty implements EMPTY_START/WAIT_EMPTYING.
func (c *Controller) runEmpty() error {
	if err := c.act.SetSpeed(c.proc.EmptySpeed); err != nil {
		return err
	}
	if err := c.SetValves(valvesWashFillEmpty); err != nil {
		return err
	}
	if err := c.act.MoveTo(0); err != nil {
		return errors.Wrap(err, "control: empty")
	}
	if err := c.SetValves(valvesSensorsOnly); err != nil {
		return err
	}
	c.beep(1.0)
	return nil
}

// runHome implements HOME_START/WAIT_HOMING.
func (c *Controller) runHome() error {
	if err := c.SetValves(valvesSensorsOnly); err != nil {
		return err
	}
	if err := c.act.Home(); err != nil {
		return errors.Wrap(err, "control: home")
	}
	if err := c.SetValves(valvesSensorsOnly); err != nil {
		return err
	}
	c.beep(1.0)
	return nil
}

// runBreathOpen implements BREATH_START: open the valves for a breath
// sample intake and stop (no actuator move, no EXIT beep in the
// original).
func (c *Controller) runBreathOpen() error {
	return c.SetValves(valvesBreathIntake)
}
