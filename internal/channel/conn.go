package channel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/telemy/aegis-shim/internal/wire"
)

// Readiness is the result of a bounded read-readiness probe.
type Readiness int

const (
	ReadinessTimeout Readiness = iota
	ReadinessReady
	ReadinessDisconnected
)

// I/O slice sizes. The readiness probe re-checks the interrupt flag every
// readSlice; blocking reads and writes re-check every ioSlice.
const (
	readSlice = 20 * time.Millisecond
	ioSlice   = 50 * time.Millisecond
)

var ErrBadFrameLength = errors.New("channel: invalid frame length")

// Conn wraps one byte-stream channel with frame I/O. A Conn is owned by a
// single goroutine; only Close may be called concurrently.
type Conn struct {
	raw       net.Conn
	reader    *bufio.Reader
	closed    atomic.Bool
	interrupt func() bool
}

// Wrap adopts an accepted net.Conn (peer side: mock core, tests).
func Wrap(raw net.Conn, interrupt func() bool) *Conn {
	return newConn(raw, interrupt)
}

func newConn(raw net.Conn, interrupt func() bool) *Conn {
	if interrupt == nil {
		interrupt = func() bool { return false }
	}
	return &Conn{
		raw:       raw,
		reader:    bufio.NewReaderSize(raw, 4+wire.MaxFrameSize),
		interrupt: interrupt,
	}
}

// WaitReadable probes for available bytes for up to timeout, slicing the
// wait so the interrupt flag is consulted on the way.
func (c *Conn) WaitReadable(timeout time.Duration) Readiness {
	deadline := time.Now().Add(timeout)
	for !c.interrupt() {
		if c.closed.Load() {
			return ReadinessDisconnected
		}
		if c.reader.Buffered() > 0 {
			return ReadinessReady
		}
		slice := time.Until(deadline)
		if slice <= 0 {
			return ReadinessTimeout
		}
		if slice > readSlice {
			slice = readSlice
		}
		_ = c.raw.SetReadDeadline(time.Now().Add(slice))
		_, err := c.reader.Peek(1)
		if err == nil {
			return ReadinessReady
		}
		if !isTimeout(err) {
			return ReadinessDisconnected
		}
	}
	return ReadinessDisconnected
}

// ReadFrame reads one complete frame: the 4-byte big-endian length, then
// exactly that many payload bytes. A zero or oversized length is fatal for
// the session.
func (c *Conn) ReadFrame() ([]byte, error) {
	var head [4]byte
	if err := c.readFull(head[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(head[:])
	if length == 0 || length > wire.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrBadFrameLength, length)
	}
	body := make([]byte, length)
	if err := c.readFull(body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes the length prefix and body as one atomic frame. Any
// short write is a session failure.
func (c *Conn) WriteFrame(body []byte) error {
	if len(body) == 0 || len(body) > wire.MaxFrameSize {
		return fmt.Errorf("%w: %d", ErrBadFrameLength, len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return c.writeAll(frame)
}

// Close is idempotent and promptly cancels any in-flight read or write.
func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.raw.Close()
	}
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) readFull(dst []byte) error {
	total := 0
	for total < len(dst) {
		if c.interrupt() || c.closed.Load() {
			return ErrClosed
		}
		_ = c.raw.SetReadDeadline(time.Now().Add(ioSlice))
		n, err := c.reader.Read(dst[total:])
		total += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) && total == len(dst) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *Conn) writeAll(src []byte) error {
	total := 0
	for total < len(src) {
		if c.interrupt() || c.closed.Load() {
			return ErrClosed
		}
		_ = c.raw.SetWriteDeadline(time.Now().Add(ioSlice))
		n, err := c.raw.Write(src[total:])
		total += n
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
