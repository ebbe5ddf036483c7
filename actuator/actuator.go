// Package actuator drives the syringe/valve actuator over its own
// serial link using the bracket-framed command vocabulary of spec §3/§6:
// home, go-to, set-speed, get-position, get-status. It is the exclusive
// owner of its serialport.Port, the same single-owner-per-link shape
// serialport/daqworker use for the DAQ instrument.
//
// MoveTo's poll-until-on-target loop is grounded on the teacher's
// pi/gcs2.go Controller.MoveAbs: write the move command once, then poll
// a status query on a fixed interval up to a bounded number of checks,
// erroring out if the device never reports on-target.
package actuator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmgualb/HMC-T1/serialport"
	"github.com/pkg/errors"
)

// ErrNotOnTarget is returned by MoveTo when the actuator never reports
// motor-off within the configured poll budget.
var ErrNotOnTarget = errors.New("actuator: move did not complete before poll budget exhausted")

// Config configures polling behavior. Zero values fall back to spec
// defaults.
type Config struct {
	PollInterval time.Duration // spec default 100ms
	MaxChecks    int           // spec default 10000
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 100 * time.Millisecond
}

func (c Config) maxChecks() int {
	if c.MaxChecks > 0 {
		return c.MaxChecks
	}
	return 10000
}

// Actuator is the exclusive owner of the actuator serial link.
type Actuator struct {
	port *serialport.Port
	cfg  Config
}

// New binds an Actuator to an already-open serial port.
func New(port *serialport.Port, cfg Config) *Actuator {
	return &Actuator{port: port, cfg: cfg}
}

// frame formats a bracketed command, e.g. frame("GO", "%+07d", 1500) ->
// "<GO:+001500>".
func frame(verb, format string, args ...interface{}) string {
	if format == "" {
		return fmt.Sprintf("<%s>", verb)
	}
	return fmt.Sprintf("<%s:%s>", verb, fmt.Sprintf(format, args...))
}

func parseFrame(line, verb string) (string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "<"+verb) || !strings.HasSuffix(line, ">") {
		return "", errors.Errorf("actuator: unexpected reply %q for %s", line, verb)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"+verb), ">")
	return strings.TrimPrefix(body, ":"), nil
}

// Home sends <GH> and blocks until the actuator reports homed (motor off
// at the home position), per the same poll loop MoveTo uses.
func (a *Actuator) Home() error {
	if err := a.port.WriteLine(frame("GH", "")); err != nil {
		return errors.Wrap(err, "actuator: GH")
	}
	return a.waitMotorOff()
}

// SetSpeed sets the actuator's move speed in device units.
func (a *Actuator) SetSpeed(speed int) error {
	return a.port.WriteLine(frame("SP", "%03d", speed))
}

// MoveTo commands an absolute position (signed device counts, e.g.
// syringe plunger steps or valve index) and polls until motor-off,
// grounded on pi/gcs2.go's MoveAbs.
func (a *Actuator) MoveTo(pos int) error {
	if err := a.port.WriteLine(frame("GO", "%+07d", pos)); err != nil {
		return errors.Wrap(err, "actuator: GO")
	}
	return a.waitMotorOff()
}

// Position queries the actuator's current absolute position.
func (a *Actuator) Position() (int, error) {
	if err := a.port.WriteLine(frame("GP", "")); err != nil {
		return 0, errors.Wrap(err, "actuator: GP")
	}
	line, err := a.port.ReadLine()
	if err != nil {
		return 0, errors.Wrap(err, "actuator: GP reply")
	}
	body, err := parseFrame(line, "POS")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(body)
}

// motorOn queries the actuator's motor-on/off status.
func (a *Actuator) motorOn() (bool, error) {
	if err := a.port.WriteLine(frame("ST", "")); err != nil {
		return false, errors.Wrap(err, "actuator: ST")
	}
	line, err := a.port.ReadLine()
	if err != nil {
		return false, errors.Wrap(err, "actuator: ST reply")
	}
	switch strings.TrimSpace(line) {
	case "<ON>":
		return true, nil
	case "<OFF>":
		return false, nil
	default:
		return false, errors.Errorf("actuator: unexpected status reply %q", line)
	}
}

// waitMotorOff polls ST at cfg.pollInterval() until the motor reports
// off or cfg.maxChecks() polls have elapsed.
func (a *Actuator) waitMotorOff() error {
	for i := 0; i < a.cfg.maxChecks(); i++ {
		on, err := a.motorOn()
		if err != nil {
			return err
		}
		if !on {
			return nil
		}
		time.Sleep(a.cfg.pollInterval())
	}
	return ErrNotOnTarget
}

// Close releases the underlying serial link.
func (a *Actuator) Close() error {
	return a.port.Close()
}
