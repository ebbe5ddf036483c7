package control

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeCmdServer accepts one connection and answers each newline-terminated
// request using respond, matching the Command Service's line protocol.
func fakeCmdServer(t *testing.T, respond func(string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rd := bufio.NewReader(conn)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return
			}
			req := strings.TrimRight(line, "\r\n")
			conn.Write([]byte(respond(req) + "\r\n"))
		}
	}()
	return ln.Addr().String()
}

func TestClientQueryReturnsTrimmedReply(t *testing.T) {
	addr := fakeCmdServer(t, func(req string) string { return "OK" })
	c := NewClient(addr)
	defer c.Close()
	c.Timeout = time.Second

	got, err := c.Query(":valve:all?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != "OK" {
		t.Errorf("got %q, want %q", got, "OK")
	}
}

func TestClientQueryEchoesRequestSpecificReply(t *testing.T) {
	addr := fakeCmdServer(t, func(req string) string {
		if req == ":dio0:read?" {
			return "1"
		}
		return "ERR unknown"
	})
	c := NewClient(addr)
	defer c.Close()
	c.Timeout = time.Second

	got, err := c.Query(":dio0:read?")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != "1" {
		t.Errorf("got %q, want %q", got, "1")
	}
}

func TestClientCommandErrorsOnErrReply(t *testing.T) {
	addr := fakeCmdServer(t, func(req string) string { return "ERR bad request" })
	c := NewClient(addr)
	defer c.Close()
	c.Timeout = time.Second

	if err := c.Command(":dout0:write,1"); err == nil {
		t.Fatal("expected error on ERR reply")
	}
}

func TestClientCommandSucceedsOnOK(t *testing.T) {
	addr := fakeCmdServer(t, func(req string) string { return "OK" })
	c := NewClient(addr)
	defer c.Close()
	c.Timeout = time.Second

	if err := c.Command(":dout0:write,1"); err != nil {
		t.Errorf("Command: %v", err)
	}
}
