// Package cmdservice implements the Command Service (spec §4.4): a TCP
// listener bound to a bounded pool of per-connection response slots, a
// text tokenizer/dispatch table, and the "command lock" that serializes
// a forwarded request's submit-then-await pair against the DAQ Worker.
//
// The listen/accept/per-connection-goroutine shape is the same bare
// net.Listener loop the teacher uses in its comm package's test helper
// (tcpEchoServer); here it gains a connection cap and a real dispatch
// table instead of an io.Copy echo.
package cmdservice

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/dmgualb/HMC-T1/daqworker"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
	"github.com/dmgualb/HMC-T1/wire"
	"github.com/pkg/errors"
)

// Version is the server version string reported by :CMD:VERS?.
const Version = "HMC-T1/1.0"

// slotPool is a fixed-size free list of response slot indices, protected
// by its own mutex, per spec §5's "response-slot pool" shared-resource
// policy.
type slotPool struct {
	mu   sync.Mutex
	free []int
}

func newSlotPool(n int) *slotPool {
	free := make([]int, n)
	for i := range free {
		free[i] = i
	}
	return &slotPool{free: free}
}

func (p *slotPool) acquire() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, false
	}
	n := len(p.free) - 1
	slot := p.free[n]
	p.free = p.free[:n]
	return slot, true
}

func (p *slotPool) release(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, slot)
}

// Service wires the Command Service to the resources it fronts: the
// Sample Ring, the Sensor Catalog, and the DAQ Worker's request channel.
type Service struct {
	Ring        *ringbuf.Buffer
	Catalog     *sensorcat.Catalog
	Worker      *daqworker.Worker
	MaxHandlers int

	Terminate func() // called on :CMD:HMC:SHUTDOWN

	slots   *slotPool
	cmdLock sync.Mutex
}

// New constructs a Service. terminate is invoked from a handler
// goroutine each time a client sends :CMD:HMC:SHUTDOWN.
func New(ring *ringbuf.Buffer, catalog *sensorcat.Catalog, worker *daqworker.Worker, maxHandlers int, terminate func()) *Service {
	return &Service{
		Ring:        ring,
		Catalog:     catalog,
		Worker:      worker,
		MaxHandlers: maxHandlers,
		Terminate:   terminate,
		slots:       newSlotPool(maxHandlers),
	}
}

// ListenAndServe accepts connections on addr until Accept fails. The
// listener is created and owned by this call; terminate does not close it.
func (s *Service) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "cmdservice: listen")
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Service) handle(conn net.Conn) {
	defer conn.Close()
	slot, ok := s.slots.acquire()
	if !ok {
		conn.Write([]byte("ERR\n"))
		return
	}
	defer s.slots.release(slot)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := s.dispatch(line)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

// forward submits text to the worker and awaits its reply, holding the
// command lock across the whole submit-then-await pair so no other
// handler's request can interleave on the worker's single requests
// channel, per spec §4.4/§5.
func (s *Service) forward(text string, preWait float64) (string, error) {
	reply := make(chan daqworker.Response, 1)
	s.cmdLock.Lock()
	defer s.cmdLock.Unlock()
	s.Worker.Requests <- daqworker.Request{Text: text, PreWait: preWait, Reply: reply}
	resp := <-reply
	return resp.Text, resp.Err
}

func tokenize(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// dispatch tokenizes and routes one request per the §4.4 table, returning
// the exact text to write back (without a trailing newline).
func (s *Service) dispatch(line string) string {
	toks := tokenize(line)
	if len(toks) == 0 {
		return "ERR"
	}
	cmd := strings.ToUpper(toks[0])
	args := toks[1:]

	switch {
	case cmd == ":CMD:HMC:SHUTDOWN":
		if s.Terminate != nil {
			s.Terminate()
		}
		return "ABORT"

	case cmd == ":CMD:VERS?":
		return Version

	case cmd == ":CMD:BUFSZ?":
		return fmt.Sprintf("%g", s.Ring.WindowSeconds())

	case cmd == ":CMD:NAMES?":
		return wire.FormatNames(s.Catalog)

	case cmd == ":CMD:TIME:MIN?":
		first, ok := s.Ring.First()
		if !ok {
			return "ERR: empty ring"
		}
		return fmt.Sprintf("%g", first.T)

	case cmd == ":CMD:TIME:MAX?":
		last, ok := s.Ring.Last()
		if !ok {
			return "ERR: empty ring"
		}
		return fmt.Sprintf("%g", last.T)

	case cmd == ":CMD:TIME:RST":
		return s.handleTimeReset()

	case cmd == ":CMD:READ?":
		return s.handleRead(args)

	case cmd == ":CMD:BASE:DRIFT?":
		return s.handleDrift(args)

	case cmd == ":CMD:PEAK?":
		return s.handlePeak(args)

	case cmd == ":CMD:DROP":
		return s.handleDrop(args)

	case cmd == ":TRIG:CONT:READ?":
		// never let a second continuous-trigger hit the worker: collapse
		// to a single-shot read instead of forwarding as-is.
		text, err := s.forward(":TRIG:READ? "+strings.Join(args, ","), 0)
		return replyOf(text, err)

	case cmd == "*RST" || strings.HasPrefix(cmd, ":SAV") || strings.HasPrefix(cmd, ":RCL"):
		text, err := s.forward(line, 2.0)
		return replyOf(text, err)

	case strings.HasPrefix(cmd, "*") || strings.HasPrefix(cmd, ":"):
		text, err := s.forward(line, 0)
		return replyOf(text, err)

	default:
		return "ERR"
	}
}

func replyOf(text string, err error) string {
	if err != nil {
		return "ERR: " + err.Error()
	}
	if text == "" {
		return "OK"
	}
	return text
}

// handleTimeReset forwards :CMD:TIME:RST to the worker then rebases
// every record currently in the ring by the returned offset, under the
// ring's write lock, per spec §4.4.
func (s *Service) handleTimeReset() string {
	text, err := s.forward(":CMD:TIME:RST", 0)
	if err != nil {
		return "ERR: " + err.Error()
	}
	delta, perr := strconv.ParseFloat(text, 64)
	if perr != nil {
		return "ERR: bad worker reply " + text
	}
	s.Ring.Rebase(delta)
	return text
}

// handleRead implements :CMD:READ? ALL and :CMD:READ? <label>[, <time>|MIN|MAX[, <window>]].
func (s *Service) handleRead(args []string) string {
	if len(args) == 0 {
		return "ERR: missing argument"
	}
	if strings.EqualFold(args[0], "ALL") {
		last, ok := s.Ring.Last()
		if !ok {
			return "ERR: empty ring"
		}
		return wire.FormatSample(s.Catalog, last)
	}

	idx, desc, ok := s.Catalog.ByLabel(args[0])
	if !ok {
		return "ERR: unknown label"
	}
	snap := s.Ring.Snapshot()
	if len(snap) == 0 {
		return "ERR: empty ring"
	}
	endIndex := len(snap) - 1
	if len(args) >= 2 {
		switch strings.ToUpper(args[1]) {
		case "MIN":
			endIndex = 0
		case "MAX":
			endIndex = len(snap) - 1
		default:
			t, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return "ERR: bad time argument"
			}
			endIndex = findTimeIndex(snap, t)
		}
	}
	if len(args) >= 3 {
		window, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "ERR: bad window argument"
		}
		med, err := medianOverWindow(snap, idx, endIndex, window)
		if err != nil {
			return "ERR: " + err.Error()
		}
		return desc.FormatValue(desc.Convert(med))
	}
	if idx >= len(snap[endIndex].Values) {
		return "ERR: channel out of range"
	}
	return desc.FormatValue(desc.Convert(snap[endIndex].Values[idx]))
}

func (s *Service) handleDrift(args []string) string {
	if len(args) == 0 {
		return "ERR: missing argument"
	}
	idx, desc, ok := s.Catalog.ByLabel(args[0])
	if !ok {
		return "ERR: unknown label"
	}
	interval := 0.0
	if len(args) >= 2 {
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "ERR: bad interval argument"
		}
		interval = v
	}
	drift, err := driftOf(s.Ring.Snapshot(), idx, interval, desc)
	if err != nil {
		return "ERR: " + err.Error()
	}
	return fmt.Sprintf(desc.Format, drift) + desc.Unit + "/min"
}

func (s *Service) handlePeak(args []string) string {
	if len(args) < 3 {
		return "ERR: missing argument"
	}
	idx, desc, ok := s.Catalog.ByLabel(args[0])
	if !ok {
		return "ERR: unknown label"
	}
	t0, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "ERR: bad t0 argument"
	}
	interval, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return "ERR: bad interval argument"
	}
	t, v, err := peakOf(s.Ring.Snapshot(), idx, t0, interval, desc)
	if err != nil {
		return "ERR: " + err.Error()
	}
	return fmt.Sprintf("%g,%s", t, desc.FormatValue(v))
}

// handleDrop implements the :CMD:DROP composite pseudo-command: a fixed
// sequence of forwarded commands that pulses a PWM-driven valve out to
// its excursion limit and back, waiting proportional to the excursion,
// per spec §4.4.
func (s *Service) handleDrop(args []string) string {
	speed := "50"
	if len(args) >= 1 {
		speed = args[0]
	}
	if _, err := s.forward("pwm1:val min", 0); err != nil {
		return "ERR: " + err.Error()
	}
	minText, err := s.forward("pwm1:min?", 0)
	if err != nil {
		return "ERR: " + err.Error()
	}
	maxText, err := s.forward("pwm1:max?", 0)
	if err != nil {
		return "ERR: " + err.Error()
	}
	minV, err1 := strconv.ParseFloat(minText, 64)
	maxV, err2 := strconv.ParseFloat(maxText, 64)
	if err1 != nil || err2 != nil {
		return "ERR: bad pwm1 limits"
	}
	if _, err := s.forward(fmt.Sprintf("pwm1:move max, %s", speed), 0); err != nil {
		return "ERR: " + err.Error()
	}
	excursion := maxV - minV
	waitSeconds := excursion * waitPerUnitExcursion
	sleep(waitSeconds)
	if _, err := s.forward("pwm1:move min, max", 0); err != nil {
		return "ERR: " + err.Error()
	}
	return "OK"
}
