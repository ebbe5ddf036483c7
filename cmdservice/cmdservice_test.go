package cmdservice

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmgualb/HMC-T1/daqworker"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
	"github.com/dmgualb/HMC-T1/serialport"
)

var errBoom = errors.New("boom")

func testCatalog(t *testing.T) *sensorcat.Catalog {
	t.Helper()
	c, err := sensorcat.New([]sensorcat.Descriptor{
		{Label: "CH4", Unit: "ppm", Format: "%.2f", Tag: sensorcat.TagRaw},
		{Label: "H2", Unit: "ppm", Format: "%.2f", Tag: sensorcat.TagRaw},
	})
	if err != nil {
		t.Fatalf("sensorcat.New: %v", err)
	}
	return c
}

func testWorker(t *testing.T) *daqworker.Worker {
	t.Helper()
	a, _ := net.Pipe()
	port := serialport.NewFromConn(serialport.Config{Name: "fake", Baud: 9600}, a)
	return daqworker.New(port, daqworker.Config{Channels: []string{"ch0", "ch1"}, NPLC: 1})
}

func startCmdService(t *testing.T, maxHandlers int, terminate func()) (addr string, svc *Service) {
	t.Helper()
	ring := ringbuf.New(1200, 2)
	svc = New(ring, testCatalog(t), testWorker(t), maxHandlers, terminate)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go svc.handle(conn)
		}
	}()
	return ln.Addr().String(), svc
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func TestVersQuery(t *testing.T) {
	addr, _ := startCmdService(t, 5, nil)
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:VERS?\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != Version+"\n" {
		t.Errorf("got %q, want %q", line, Version+"\n")
	}
}

func TestNamesQuery(t *testing.T) {
	addr, _ := startCmdService(t, 5, nil)
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:NAMES?\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "TIME,CH4,H2\n" {
		t.Errorf("got %q, want %q", line, "TIME,CH4,H2\n")
	}
}

func TestBufszQuery(t *testing.T) {
	addr, _ := startCmdService(t, 5, nil)
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:BUFSZ?\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "1200\n" {
		t.Errorf("got %q, want %q", line, "1200\n")
	}
}

func TestTimeMinMaxQueryEmptyRing(t *testing.T) {
	addr, _ := startCmdService(t, 5, nil)
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:TIME:MIN?\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ERR: empty ring\n" {
		t.Errorf("got %q, want ERR", line)
	}
}

func TestReadAllReturnsLatestSample(t *testing.T) {
	addr, svc := startCmdService(t, 5, nil)
	if _, err := svc.Ring.Append(0, []float64{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := svc.Ring.Append(1, []float64{3, 4}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:READ? ALL\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "1s,3.00ppm,4.00ppm\n"; line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestReadLabelReturnsLatestValue(t *testing.T) {
	addr, svc := startCmdService(t, 5, nil)
	if _, err := svc.Ring.Append(0, []float64{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:READ? CH4\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "1.00ppm\n"; line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

func TestReadUnknownLabelErrors(t *testing.T) {
	addr, svc := startCmdService(t, 5, nil)
	if _, err := svc.Ring.Append(0, []float64{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:READ? BOGUS\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ERR: unknown label\n" {
		t.Errorf("got %q, want ERR", line)
	}
}

func TestShutdownInvokesTerminateAndReplies(t *testing.T) {
	called := make(chan struct{}, 1)
	addr, _ := startCmdService(t, 5, func() { called <- struct{}{} })
	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:HMC:SHUTDOWN\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ABORT\n" {
		t.Errorf("got %q, want ABORT", line)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("terminate was not called")
	}
}

func TestMaxHandlersRejectsOverflowConnection(t *testing.T) {
	addr, _ := startCmdService(t, 1, nil)

	// hold the one slot open with a connection that never sends a line.
	holder, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer holder.Close()
	time.Sleep(50 * time.Millisecond)

	conn, rd := dial(t, addr)
	conn.Write([]byte(":CMD:VERS?\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ERR\n" {
		t.Errorf("got %q, want ERR (slot pool exhausted)", line)
	}
}

func TestForwardedCommandRoundTripsThroughWorker(t *testing.T) {
	addr, svc := startCmdService(t, 5, nil)
	go func() {
		req := <-svc.Worker.Requests
		req.Reply <- daqworker.Response{Text: "OK"}
	}()
	conn, rd := dial(t, addr)
	conn.Write([]byte(":pwm1:val min\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "OK\n" {
		t.Errorf("got %q, want OK", line)
	}
}

func TestForwardedCommandPropagatesWorkerError(t *testing.T) {
	addr, svc := startCmdService(t, 5, nil)
	go func() {
		req := <-svc.Worker.Requests
		req.Reply <- daqworker.Response{Err: errBoom}
	}()
	conn, rd := dial(t, addr)
	conn.Write([]byte(":pwm1:val min\n"))
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "ERR: boom\n" {
		t.Errorf("got %q, want %q", line, "ERR: boom\n")
	}
}
