package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sibilla-sim/sibilla/sim/network"
	"github.com/sirupsen/logrus"
)

// ClientConfig configures a connection to a worker.
type ClientConfig struct {
	// Timeout bounds the wait for each reply; 0 waits until ctx is done.
	Timeout      time.Duration
	MaxFrameSize uint32
}

// Client submits requests to one worker over a single connection.
// Requests are serialized; a Client is safe for concurrent use.
// A transport failure leaves the Client unusable: there is no retry and no reconnect.
type Client struct {
	addr      string
	transport *network.TCPTransport
	conn      *network.ObjectConn

	mu     sync.Mutex
	broken error
}

// Dial connects to the worker at addr.
func Dial(ctx context.Context, addr string, cfg ClientConfig) (*Client, error) {
	opts := []network.Option{network.WithTimeout(cfg.Timeout)}
	if cfg.MaxFrameSize > 0 {
		opts = append(opts, network.WithMaxFrameSize(cfg.MaxFrameSize))
	}
	transport, err := network.Dial(ctx, addr, opts...)
	if err != nil {
		return nil, &TransportError{Addr: addr, Op: "dial", Err: err}
	}
	return &Client{
		addr:      addr,
		transport: transport,
		conn:      network.NewObjectConn(transport, NewCodec()),
	}, nil
}

// Addr returns the worker address.
func (c *Client) Addr() string { return c.addr }

// Submit sends req and waits for the reply. A missing ID is generated.
// A reply carrying an error is returned as ErrRemote.
func (c *Client) Submit(ctx context.Context, req *SimulationRequest) (*SimulationReply, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	var reply SimulationReply
	if err := c.roundTrip(ctx, req, &reply); err != nil {
		return nil, err
	}
	if reply.ID != req.ID && reply.ID != uuid.Nil {
		return nil, eris.Errorf("reply %s does not match request %s", reply.ID, req.ID)
	}
	if reply.Err != "" {
		return &reply, eris.Wrapf(ErrRemote, "worker %s: %s", c.addr, reply.Err)
	}
	return &reply, nil
}

// Models lists the worker's catalog.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	var reply CatalogReply
	if err := c.roundTrip(ctx, &CatalogRequest{}, &reply); err != nil {
		return nil, err
	}
	return reply.Models, nil
}

func (c *Client) roundTrip(ctx context.Context, req, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return &TransportError{Addr: c.addr, Op: "reuse", Err: c.broken}
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "submit cancelled")
	}

	// Closing the transport is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = c.transport.Close() })
	defer stop()

	if err := c.conn.WriteObject(req); err != nil {
		return c.fail(ctx, "write", err)
	}
	if err := c.conn.ReadObject(reply); err != nil {
		if eris.Is(err, network.ErrDecode) {
			return eris.Wrapf(err, "reply from %s", c.addr)
		}
		return c.fail(ctx, "read", err)
	}
	return nil
}

// fail marks the client broken. Caller holds mu.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	c.broken = err
	_ = c.transport.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrapf(ctxErr, "%s %s interrupted", op, c.addr)
	}
	logrus.Debugf("worker %s: %s failed: %v", c.addr, op, err)
	return &TransportError{Addr: c.addr, Op: op, Err: err}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
