package p2p

import (
	"context"
	"fmt"
	"net"
	"time"
)

// RemoteError is an error reply sent by the far side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// Dialer performs single request/response exchanges with bounded dial and
// I/O time.
type Dialer struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

func NewDialer(dialTimeout, ioTimeout time.Duration) *Dialer {
	return &Dialer{DialTimeout: dialTimeout, IOTimeout: ioTimeout}
}

// Call opens a connection to addr, sends one message and reads one reply.
// An error reply is returned as *RemoteError.
func (d *Dialer) Call(ctx context.Context, addr string, msgType MessageType, payload interface{}) (*Envelope, error) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d.IOTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteMessage(conn, msgType, payload); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", msgType, addr, err)
	}
	resp, err := ReadEnvelope(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply from %s: %w", addr, err)
	}
	if resp.Type == MessageError {
		var e ErrorResponse
		if err := resp.Decode(&e); err != nil {
			return nil, err
		}
		return nil, &RemoteError{Message: e.Error}
	}
	return resp, nil
}

// CallExpect is Call followed by a check of the reply type and a decode of
// its payload into out.
func (d *Dialer) CallExpect(ctx context.Context, addr string, msgType MessageType, payload interface{}, want MessageType, out interface{}) error {
	resp, err := d.Call(ctx, addr, msgType, payload)
	if err != nil {
		return err
	}
	if resp.Type != want {
		return fmt.Errorf("%w: expected %s reply, got %s", ErrMalformedMessage, want, resp.Type)
	}
	return resp.Decode(out)
}

// Ping checks that a service answers at addr.
func (d *Dialer) Ping(ctx context.Context, addr string) error {
	var pong Pong
	return d.CallExpect(ctx, addr, MessagePing, struct{}{}, MessagePong, &pong)
}
