// Package control implements the Process Controller (spec §4.6): an
// ordinary TCP client of the Command and Data Services that also owns
// the Actuator serial link, sequencing lab procedures through a state
// machine of valve writes and syringe moves.
package control

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/dmgualb/HMC-T1/comm"
	"github.com/pkg/errors"
)

// Client is a pooled, backoff-reconnecting, newline-framed TCP client of
// the Command Service, grounded on pi/gcs2.go's Controller: a
// comm.Pool fronted by comm.BackingOffTCPConnMaker, wrapped per-call with
// comm.Timeout, one request per line.
type Client struct {
	pool    *comm.Pool
	Timeout time.Duration
}

// NewClient dials addr on first use (and on every reconnect) via
// exponential backoff, matching pi.NewNetwork's single-connection pool.
func NewClient(addr string) *Client {
	maker := comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	return &Client{pool: comm.NewPool(1, 30*time.Second, maker), Timeout: 5 * time.Second}
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Query sends one newline-terminated request and returns the single
// reply line, trimmed of its terminator.
func (c *Client) Query(request string) (reply string, err error) {
	rw, err := c.pool.Get()
	if err != nil {
		return "", errors.Wrap(err, "control: connect")
	}
	defer func() { c.pool.ReturnWithError(rw, err) }()

	var wrap io.ReadWriter = comm.NewTimeout(rw, c.Timeout)
	if _, err = io.WriteString(wrap, request+"\n"); err != nil {
		return "", errors.Wrap(err, "control: write")
	}
	line, err := bufio.NewReader(wrap).ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "control: read")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Command sends a request and errors if the reply is not OK or a bare
// value the caller expects to ignore; it is Query without a returned
// payload, for fire-and-forget style requests like :dout0:write.
func (c *Client) Command(request string) error {
	reply, err := c.Query(request)
	if err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToUpper(reply), "ERR") {
		return errors.Errorf("control: %s -> %s", request, reply)
	}
	return nil
}
