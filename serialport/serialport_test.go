package serialport

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"
)

func fakePair(t *testing.T) (*Port, *bufio.Reader, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	p := NewFromConn(Config{Name: "fake", Baud: 9600}, a)
	t.Cleanup(func() { p.Close() })
	return p, bufio.NewReader(b), b
}

func TestWriteLineAppendsCRLF(t *testing.T) {
	p, rd, conn := fakePair(t)
	defer conn.Close()
	done := make(chan error, 1)
	go func() { done <- p.WriteLine("hello") }()
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello\r\n" {
		t.Errorf("got %q, want %q", line, "hello\r\n")
	}
	if err := <-done; err != nil {
		t.Errorf("WriteLine: %v", err)
	}
}

func TestWriteSendsRawBytes(t *testing.T) {
	p, rd, conn := fakePair(t)
	defer conn.Close()
	done := make(chan error, 1)
	go func() { done <- p.Write([]byte("Q")) }()
	b, err := rd.ReadByte()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if b != 'Q' {
		t.Errorf("got %q, want Q", b)
	}
	if err := <-done; err != nil {
		t.Errorf("Write: %v", err)
	}
}

func TestReadLineStripsCRLF(t *testing.T) {
	p, _, conn := fakePair(t)
	defer conn.Close()
	go conn.Write([]byte("reading\r\n"))
	line, err := p.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "reading" {
		t.Errorf("got %q, want %q", line, "reading")
	}
}

func TestReadLineStripsBareLF(t *testing.T) {
	p, _, conn := fakePair(t)
	defer conn.Close()
	go conn.Write([]byte("reading\n"))
	line, err := p.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "reading" {
		t.Errorf("got %q, want %q", line, "reading")
	}
}

// timeoutErr mimics the net error interface ReadLine checks for.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// timeoutConn implements io.ReadWriteCloser, always failing reads with a
// timeout error, to exercise ReadLine's ErrTimeout translation.
type timeoutConn struct{}

func (timeoutConn) Read(p []byte) (int, error)  { return 0, timeoutErr{} }
func (timeoutConn) Write(p []byte) (int, error) { return len(p), nil }
func (timeoutConn) Close() error                { return nil }

func TestReadLineTranslatesTimeout(t *testing.T) {
	p := NewFromConn(Config{Name: "fake", Baud: 9600}, timeoutConn{})
	_, err := p.ReadLine()
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p, _, conn := fakePair(t)
	defer conn.Close()
	if err := p.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestReopenFailsWithoutOpener(t *testing.T) {
	p, _, conn := fakePair(t)
	defer conn.Close()
	if err := p.Reopen(); err == nil {
		t.Fatal("expected error reopening a connection-backed port")
	}
}

func TestDrainInputConsumesBufferedBytes(t *testing.T) {
	p, _, conn := fakePair(t)
	defer conn.Close()
	go conn.Write([]byte("line one\nline two\n"))
	time.Sleep(20 * time.Millisecond)
	// reading the first line pulls both lines into the bufio buffer, so
	// "line two\n" is left buffered for DrainInput to consume.
	if _, err := p.ReadLine(); err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if n := p.reader.Buffered(); n == 0 {
		t.Fatal("expected the second line to be buffered before DrainInput")
	}
	p.DrainInput()
	if n := p.reader.Buffered(); n != 0 {
		t.Errorf("Buffered() = %d, want 0", n)
	}
}
