// Package serialport implements §4.1 Serial Transport: a thin
// line-oriented channel over a serial device. CRLF is written, LF
// (tolerant of a preceding CR) is read. Open retries with an exponential
// backoff the way the teacher repository's comm.RemoteDevice.Open did (that
// type is not part of this repository), and supports a start-delay
// to cover device boot time.
package serialport

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrTimeout is returned by ReadLine when no line arrives within the
// configured read timeout.
var ErrTimeout = errors.New("serialport: read timeout")

// Config describes how to open a port.
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration // per spec §5, ~1s so the owner can poll other channels
	StartDelay  time.Duration // time to sleep after open, to cover device boot
}

// Port is an open line-oriented serial connection. The zero value is not
// usable; use Open.
type Port struct {
	cfg    Config
	sp     io.ReadWriteCloser
	reader *bufio.Reader
	opener func(*serial.Config) (io.ReadWriteCloser, error)
}

func defaultOpener(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// Open opens the named serial port with the given config, retrying with
// an exponential backoff in the style of the teacher repository's
// comm.RemoteDevice.Open, then
// sleeps StartDelay before returning to cover device boot.
func Open(cfg Config) (*Port, error) {
	return openWith(cfg, defaultOpener)
}

func openWith(cfg Config, opener func(*serial.Config) (io.ReadWriteCloser, error)) (*Port, error) {
	scfg := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}
	var sp io.ReadWriteCloser
	op := func() error {
		var err error
		sp, err = opener(scfg)
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, err
	}
	if cfg.StartDelay > 0 {
		time.Sleep(cfg.StartDelay)
	}
	return &Port{cfg: cfg, sp: sp, reader: bufio.NewReader(sp), opener: opener}, nil
}

// NewFromConn wraps an already-open io.ReadWriteCloser as a Port, skipping
// the backoff-retried open. Reopen on a Port built this way fails, since
// there is no opener to call back into; it exists for link simulation and
// tests that substitute a net.Pipe or similar stand-in for a real serial
// device.
func NewFromConn(cfg Config, rwc io.ReadWriteCloser) *Port {
	return &Port{cfg: cfg, sp: rwc, reader: bufio.NewReader(rwc)}
}

// WriteLine writes s followed by CRLF.
func (p *Port) WriteLine(s string) error {
	_, err := p.sp.Write([]byte(s + "\r\n"))
	return err
}

// Write writes raw bytes with no terminator appended, used for the
// single-character synchronous-stop command ('Q').
func (p *Port) Write(b []byte) error {
	_, err := p.sp.Write(b)
	return err
}

// ReadLine reads up to the next LF, stripping a trailing CR if present.
// It honors the configured ReadTimeout via the underlying serial port's
// deadline, returning ErrTimeout in place of the driver's timeout error so
// callers can distinguish a transient read timeout from a hard error.
func (p *Port) ReadLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil {
		if isTimeout(err) {
			return "", ErrTimeout
		}
		return "", err
	}
	line = trimEOL(line)
	return line, nil
}

func trimEOL(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}

// DrainInput discards any input currently buffered, without blocking
// indefinitely: it reads until a ReadLine call times out or the buffer is
// empty.
func (p *Port) DrainInput() {
	for {
		if p.reader.Buffered() == 0 {
			return
		}
		if _, err := p.ReadLine(); err != nil {
			return
		}
	}
}

// Close closes the underlying serial handle.
func (p *Port) Close() error {
	if p.sp == nil {
		return nil
	}
	err := p.sp.Close()
	p.sp = nil
	return err
}

// Reopen closes (if needed) and reopens the port with the same
// configuration, restoring a fresh buffered reader.
func (p *Port) Reopen() error {
	if p.opener == nil {
		return errors.New("serialport: Reopen not supported on a Port built from an existing connection")
	}
	_ = p.Close()
	np, err := openWith(p.cfg, p.opener)
	if err != nil {
		return err
	}
	p.sp = np.sp
	p.reader = np.reader
	return nil
}
