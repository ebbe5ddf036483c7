// Package daqworker implements the single owner of the DAQ serial link
// (spec §4.2): it free-runs a continuous multi-channel sample stream,
// interleaves synchronous command/response requests from the Command
// Service, and resynchronizes the link if the instrument falls out of
// phase.
//
// The synchronous-request rule ("if the command contains a '?', read one
// response line; otherwise it is fire-and-forget") is the same rule the
// teacher's scpi.Raw applies to a TCP-pooled SCPI instrument; here it is
// reapplied to one exclusively-owned serial line that also free-runs a
// streaming role, per the Design Notes' "dedicated worker that
// multiplexes one resource" guidance.
package daqworker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmgualb/HMC-T1/serialport"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Sample is a single acquisition as emitted by the worker, before it is
// assigned a sequence number and appended to the Sample Ring.
type Sample struct {
	T      float64
	Values []float64
}

// Request is a pending command forwarded from a Command Service handler.
// Reply is a single-reader channel; the worker sends exactly one
// Response on it and never retains a reference afterward.
type Request struct {
	Text    string
	PreWait float64
	Reply   chan Response
}

// Response is the worker's answer to a Request.
type Response struct {
	Text string
	Err  error
}

// SyncError is fatal: the instrument could not be resynchronized after
// the full escalation in spec §4.2, and the worker is shutting down.
type SyncError struct {
	Cause error
}

func (e *SyncError) Error() string { return "daqworker: fatal sync error: " + e.Cause.Error() }
func (e *SyncError) Unwrap() error { return e.Cause }

// Config configures a Worker.
type Config struct {
	Channels          []string      // e.g. []string{"ch0", "ch1", ...}, declared order
	NPLC              float64
	StatusPreset      string        // instrument preamble command, e.g. "*STATUS:PRESET"
	ResyncMaxChars    int           // a sync response longer than this means the instrument is still streaming; spec default 100
	KeepAliveInterval time.Duration // spec default 10s
}

func (c Config) triggerCmd() string {
	return ":TRIG:CONT:READ? " + strings.Join(c.Channels, ",")
}

func (c Config) resyncThreshold() int {
	if c.ResyncMaxChars > 0 {
		return c.ResyncMaxChars
	}
	return 100
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAliveInterval > 0 {
		return c.KeepAliveInterval
	}
	return 10 * time.Second
}

// Worker is the single owner of the DAQ serial link.
type Worker struct {
	port *serialport.Port
	cfg  Config

	Control  chan string // inbound: "ABORT"
	Requests chan Request
	Samples  chan Sample
	Messages chan string
	Errors   chan error

	startNs time.Time
	keepLim *rate.Limiter
}

// New constructs a Worker bound to an already-open serial port.
func New(port *serialport.Port, cfg Config) *Worker {
	return &Worker{
		port:     port,
		cfg:      cfg,
		Control:  make(chan string, 1),
		Requests: make(chan Request, 64),
		Samples:  make(chan Sample, 256),
		Messages: make(chan string, 64),
		Errors:   make(chan error, 4),
		startNs:  time.Now(),
		keepLim:  rate.NewLimiter(rate.Every(cfg.keepAlive()), 1),
	}
}

// now returns elapsed seconds since the worker's T0.
func (w *Worker) now() float64 {
	return time.Since(w.startNs).Seconds()
}

// Startup sends the instrument preamble: *RST, a settle sleep, the status
// preset, precision (NPLC), and a clear-errors, per spec §4.2.
func (w *Worker) Startup() error {
	if err := w.port.WriteLine("*RST"); err != nil {
		return errors.Wrap(err, "daqworker: *RST")
	}
	time.Sleep(200 * time.Millisecond)
	if w.cfg.StatusPreset != "" {
		if err := w.port.WriteLine(w.cfg.StatusPreset); err != nil {
			return errors.Wrap(err, "daqworker: status preset")
		}
	}
	if err := w.port.WriteLine(fmt.Sprintf(":SENS:NPLC %v", w.cfg.NPLC)); err != nil {
		return errors.Wrap(err, "daqworker: NPLC")
	}
	if err := w.port.WriteLine("*CLS"); err != nil {
		return errors.Wrap(err, "daqworker: *CLS")
	}
	return nil
}

// enterContinuous (re-)issues the continuous-read trigger.
func (w *Worker) enterContinuous() error {
	err := w.port.WriteLine(w.cfg.triggerCmd())
	if err == nil {
		w.keepLim.Allow() // reset the keepalive clock: a write just happened
	}
	return err
}

// Run executes the main loop. It blocks until ABORT is received on
// Control or a fatal error occurs, at which point it emits ABORT/EXIT on
// Errors/Messages and returns. Run owns the serial port exclusively; no
// other goroutine may write to it.
func (w *Worker) Run() error {
	if err := w.Startup(); err != nil {
		return err
	}
	if err := w.enterContinuous(); err != nil {
		return err
	}

	for {
		// 1. attempt one line read from the serial link.
		line, err := w.port.ReadLine()
		if err == nil {
			if s, perr := parseSample(line, w.now()); perr == nil {
				select {
				case w.Samples <- s:
				default:
					// samples channel saturated; drop rather than block the loop,
					// the supervisor is expected to drain promptly.
				}
			}
		} else if err != serialport.ErrTimeout {
			w.Errors <- err
		}

		// 2. non-blocking poll of requests.
		select {
		case req := <-w.Requests:
			if err := w.serveRequest(req); err != nil {
				return err
			}
		default:
		}

		// 3. non-blocking poll of control.
		select {
		case cmd := <-w.Control:
			if cmd == "ABORT" {
				_ = w.port.Write([]byte("Q"))
				_ = w.port.WriteLine("*RST")
				_ = w.port.Close()
				w.Messages <- "EXIT"
				w.Errors <- errAbort
				return nil
			}
		default:
		}

		// 4. keepalive if idle too long in continuous mode.
		if w.keepLim.Allow() {
			_ = w.port.Write([]byte(" "))
		}
	}
}

var errAbort = errors.New("daqworker: aborted")

// serveRequest stops continuous mode, serves one request synchronously,
// then resumes continuous mode, per spec §4.2. The
// send-Q/read/re-trigger sequence is strictly ordered: no sample is
// produced during the synchronous interval (spec invariant 4). It
// returns the fatal *SyncError, if any, so that Run stops.
func (w *Worker) serveRequest(req Request) error {
	if req.Text == ":CMD:TIME:RST" {
		prev := w.now()
		w.startNs = time.Now()
		req.Reply <- Response{Text: strconv.FormatFloat(prev, 'f', -1, 64)}
		return nil
	}

	if err := w.port.Write([]byte("Q")); err != nil {
		req.Reply <- Response{Err: err}
		return nil
	}
	if req.PreWait > 0 {
		time.Sleep(time.Duration(req.PreWait * float64(time.Second)))
	}

	resp, err := w.sendAndMaybeRead(req.Text)
	if err != nil {
		var se *SyncError
		if errors.As(err, &se) {
			w.Errors <- se
			w.Messages <- "EXIT"
			_ = w.port.Close()
			req.Reply <- Response{Err: se}
			return se
		}
		req.Reply <- Response{Err: err}
	} else {
		req.Reply <- Response{Text: resp}
	}

	if err := w.enterContinuous(); err != nil {
		w.Errors <- err
	}
	return nil
}

// sendAndMaybeRead writes text, and if it contains '?' reads one response
// line and resynchronizes on an oversized reply; otherwise it is
// fire-and-forget.
func (w *Worker) sendAndMaybeRead(text string) (string, error) {
	if err := w.port.WriteLine(text); err != nil {
		return "", err
	}
	if !strings.Contains(text, "?") {
		return "", nil
	}
	resp, err := w.port.ReadLine()
	if err != nil {
		return "", err
	}
	if len(resp) <= w.cfg.resyncThreshold() {
		return resp, nil
	}
	return w.resync(text)
}

// resync executes the §4.2 escalation: repeated Q, a *cls, then a retry
// of the original request; on persistent failure it reopens the serial
// link and probes :SYST:CAP?, raising a fatal SyncError if that is still
// oversized.
func (w *Worker) resync(originalText string) (string, error) {
	for i := 0; i < 3; i++ {
		_ = w.port.Write([]byte("Q"))
		time.Sleep(50 * time.Millisecond)
	}
	_ = w.port.WriteLine("*cls")
	time.Sleep(50 * time.Millisecond)

	if err := w.port.WriteLine(originalText); err != nil {
		return "", err
	}
	resp, err := w.port.ReadLine()
	if err == nil && len(resp) <= w.cfg.resyncThreshold() {
		return resp, nil
	}

	if err := w.port.Reopen(); err != nil {
		return "", &SyncError{Cause: err}
	}
	if err := w.port.WriteLine(":SYST:CAP?"); err != nil {
		return "", &SyncError{Cause: err}
	}
	capResp, err := w.port.ReadLine()
	if err != nil {
		return "", &SyncError{Cause: err}
	}
	if len(capResp) > w.cfg.resyncThreshold() {
		return "", &SyncError{Cause: errors.New("instrument did not resynchronize after full escalation")}
	}
	return capResp, nil
}

// parseSample parses one continuous-mode line: the first field is an
// elapsed-time token ending in 's', subsequent fields are floats with an
// optional trailing unit letter (V, C, %). An unparseable numeric field
// becomes NaN rather than failing the whole record, per spec §7.
func parseSample(line string, wavetime float64) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return Sample{}, errors.New("daqworker: malformed sample line")
	}
	first := strings.TrimSpace(fields[0])
	if !strings.HasSuffix(first, "s") {
		return Sample{}, errors.New("daqworker: missing elapsed-time token")
	}
	values := make([]float64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		f = strings.TrimSpace(f)
		v, err := parseNumericField(f)
		if err != nil {
			v = nan()
		}
		values = append(values, v)
	}
	return Sample{T: wavetime, Values: values}, nil
}

func parseNumericField(f string) (float64, error) {
	f = stripTrailingUnit(f)
	return strconv.ParseFloat(f, 64)
}

// stripTrailingUnit removes exactly one trailing unit byte (V, C, %, s),
// never from the middle of the token, per spec §9 open question 3.
func stripTrailingUnit(tok string) string {
	if tok == "" {
		return tok
	}
	last := tok[len(tok)-1]
	switch last {
	case 'V', 'C', '%', 's':
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

func nan() float64 {
	var z float64
	return z / z
}
