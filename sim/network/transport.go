// Package network moves opaque messages between simulation nodes over TCP.
//
// Every message is framed as a 4-byte big-endian payload length followed by the
// payload bytes. The framing layer knows nothing about payload contents; objects are
// serialized by a Codec on top of it (see ObjectConn).
//
// The transport never retries and never reconnects: every failure is reported to the
// caller as one of the sentinel errors below.
package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTimeout is returned when no complete frame header arrived within the read timeout.
	ErrTimeout = eris.New("network read timed out")

	// ErrConnectionClosed is returned when the peer or the local side closed the connection.
	ErrConnectionClosed = eris.New("connection closed")

	// ErrFrameTooLarge is returned for frames above the configured maximum size.
	ErrFrameTooLarge = eris.New("frame exceeds maximum size")

	// ErrStreamCorrupted is returned once part of a frame has been consumed and the rest
	// could not be read. The transport must be closed: frame boundaries are lost.
	ErrStreamCorrupted = eris.New("stream corrupted by partial frame")

	// ErrDecode is returned when a received payload cannot be decoded into an object.
	ErrDecode = eris.New("cannot decode message")
)

const (
	headerSize = 4

	// DefaultMaxFrameSize bounds a single payload (64 MiB).
	DefaultMaxFrameSize = 64 << 20
)

// Transport exchanges opaque messages with one peer.
type Transport interface {
	// WriteMessage sends one message. Safe for concurrent use with ReadMessage.
	WriteMessage(payload []byte) error
	// ReadMessage blocks until a full message arrives or the read timeout expires.
	ReadMessage() ([]byte, error)
	// SetTimeout sets the read timeout; 0 disables it.
	SetTimeout(d time.Duration) error
	Close() error
	RemoteAddr() net.Addr
}

// TCPTransport is a Transport over a net.Conn.
type TCPTransport struct {
	conn   net.Conn
	reader *bufio.Reader

	readMu  sync.Mutex
	writeMu sync.Mutex

	timeout      atomic.Int64 // nanoseconds
	maxFrameSize uint32
	corrupted    atomic.Bool
}

// Option configures a TCPTransport.
type Option func(*TCPTransport)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option {
	return func(t *TCPTransport) { t.maxFrameSize = n }
}

// WithTimeout sets the initial read timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *TCPTransport) {
		if d > 0 {
			t.timeout.Store(int64(d))
		}
	}
}

// NewTCPTransport wraps an established connection.
func NewTCPTransport(conn net.Conn, opts ...Option) *TCPTransport {
	t := &TCPTransport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, opts ...Option) (*TCPTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, eris.Wrapf(err, "dialing %s", addr)
	}
	logrus.Debugf("connected to %s", conn.RemoteAddr())
	return NewTCPTransport(conn, opts...), nil
}

// SetTimeout sets the read timeout applied to every subsequent ReadMessage.
func (t *TCPTransport) SetTimeout(d time.Duration) error {
	if d < 0 {
		return eris.Errorf("negative read timeout %v", d)
	}
	t.timeout.Store(int64(d))
	return nil
}

// Timeout returns the current read timeout.
func (t *TCPTransport) Timeout() time.Duration {
	return time.Duration(t.timeout.Load())
}

// WriteMessage writes one frame. Header and payload go out in a single write.
func (t *TCPTransport) WriteMessage(payload []byte) error {
	if uint64(len(payload)) > uint64(t.maxFrameSize) {
		return eris.Wrapf(ErrFrameTooLarge, "%d bytes (max %d)", len(payload), t.maxFrameSize)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(frame); err != nil {
		return classify(err, "writing frame")
	}
	return nil
}

// ReadMessage reads one frame.
func (t *TCPTransport) ReadMessage() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if t.corrupted.Load() {
		return nil, eris.Wrap(ErrStreamCorrupted, "transport unusable after earlier partial read")
	}

	var deadline time.Time
	if d := t.Timeout(); d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, classify(err, "setting read deadline")
	}

	var header [headerSize]byte
	if n, err := io.ReadFull(t.reader, header[:]); err != nil {
		if n > 0 {
			return nil, t.corrupt(err, "reading frame header")
		}
		return nil, classify(err, "reading frame header")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > t.maxFrameSize {
		t.corrupted.Store(true)
		return nil, eris.Wrapf(ErrFrameTooLarge, "peer announced %d bytes (max %d)", size, t.maxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(t.reader, payload); err != nil {
		return nil, t.corrupt(err, "reading frame payload")
	}
	return payload, nil
}

// corrupt marks the stream unusable after a partial read and maps err.
// A closed connection stays ErrConnectionClosed; anything else is ErrStreamCorrupted.
func (t *TCPTransport) corrupt(err error, op string) error {
	t.corrupted.Store(true)
	if isClosed(err) || errors.Is(err, io.ErrUnexpectedEOF) {
		return eris.Wrap(ErrConnectionClosed, op)
	}
	return eris.Wrapf(ErrStreamCorrupted, "%s: %v", op, err)
}

// Close closes the underlying connection.
func (t *TCPTransport) Close() error {
	if err := t.conn.Close(); err != nil && !isClosed(err) {
		return eris.Wrap(err, "closing connection")
	}
	return nil
}

// RemoteAddr returns the peer address.
func (t *TCPTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (t *TCPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func classify(err error, op string) error {
	switch {
	case isTimeout(err):
		return eris.Wrap(ErrTimeout, op)
	case isClosed(err):
		return eris.Wrap(ErrConnectionClosed, op)
	default:
		return eris.Wrap(err, op)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
