package wire

import (
	"context"
	"fmt"
	"net"
	"time"
)

// NetworkError wraps a timeout or I/O failure from a wire call, kept
// distinct from request-level ErrorMessage responses.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ClientConfig controls connection setup, per-call timeouts, and retry
// policy, matching the original transmitter's configurable knobs.
type ClientConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
}

// DefaultClientConfig returns conservative defaults suitable for
// relay-to-relay and client-to-relay calls over an untrusted network.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    200 * time.Millisecond,
	}
}

// Client issues one framed request per call over a freshly dialed TCP
// connection. Each call owns its connection end-to-end; there is no
// pooling, matching the "independent per call" retry contract.
type Client struct {
	addr string
	cfg  ClientConfig
}

func NewClient(addr string, cfg ClientConfig) *Client {
	return &Client{addr: addr, cfg: cfg}
}

// Call sends msg and returns the single framed response, retrying with
// exponential backoff doubling BaseBackoff on network failure. A
// request-level ErrorMessage response is returned as a value, not an
// error — only transport failures retry.
func (c *Client) Call(ctx context.Context, msg interface{}) (interface{}, error) {
	var lastErr error
	backoff := c.cfg.BaseBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &NetworkError{Op: "call", Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := c.callOnce(ctx, msg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) callOnce(ctx context.Context, msg interface{}) (interface{}, error) {
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return nil, &NetworkError{Op: "set write deadline", Err: err}
	}
	if err := WriteFrame(conn, msg); err != nil {
		return nil, &NetworkError{Op: "write", Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return nil, &NetworkError{Op: "set read deadline", Err: err}
	}
	resp, err := ReadFrame(conn)
	if err != nil {
		return nil, &NetworkError{Op: "read", Err: err}
	}

	return resp, nil
}
