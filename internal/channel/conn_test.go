package channel

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemy/aegis-shim/internal/wire"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca := Wrap(a, nil)
	cb := Wrap(b, nil)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestWriteFramePrefixIsBigEndianLength(t *testing.T) {
	a, b := net.Pipe()
	conn := Wrap(a, nil)
	t.Cleanup(func() { conn.Close(); b.Close() })

	body := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	done := make(chan error, 1)
	go func() { done <- conn.WriteFrame(body) }()

	raw := make([]byte, 4+len(body))
	_, err := io.ReadFull(b, raw)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, body, raw[4:])
}

func TestFrameRoundTrip(t *testing.T) {
	writer, reader := pipePair(t)

	body := []byte("hello frame")
	go func() { _ = writer.WriteFrame(body) }()

	require.Equal(t, ReadinessReady, reader.WaitReadable(time.Second))
	got, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWriteFrameRejectsBadSizes(t *testing.T) {
	writer, _ := pipePair(t)

	err := writer.WriteFrame(nil)
	assert.ErrorIs(t, err, ErrBadFrameLength)

	err = writer.WriteFrame(make([]byte, wire.MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrBadFrameLength)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	a, b := net.Pipe()
	reader := Wrap(b, nil)
	t.Cleanup(func() { reader.Close(); a.Close() })

	go func() {
		var head [4]byte
		binary.BigEndian.PutUint32(head[:], 0)
		_, _ = a.Write(head[:])
	}()

	require.Equal(t, ReadinessReady, reader.WaitReadable(time.Second))
	_, err := reader.ReadFrame()
	assert.ErrorIs(t, err, ErrBadFrameLength)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	a, b := net.Pipe()
	reader := Wrap(b, nil)
	t.Cleanup(func() { reader.Close(); a.Close() })

	go func() {
		var head [4]byte
		binary.BigEndian.PutUint32(head[:], wire.MaxFrameSize+1)
		_, _ = a.Write(head[:])
	}()

	require.Equal(t, ReadinessReady, reader.WaitReadable(time.Second))
	_, err := reader.ReadFrame()
	assert.ErrorIs(t, err, ErrBadFrameLength)
}

func TestWaitReadableTimeout(t *testing.T) {
	_, reader := pipePair(t)

	start := time.Now()
	result := reader.WaitReadable(80 * time.Millisecond)
	assert.Equal(t, ReadinessTimeout, result)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestWaitReadableDisconnected(t *testing.T) {
	a, b := net.Pipe()
	reader := Wrap(b, nil)
	t.Cleanup(func() { reader.Close() })

	a.Close()
	assert.Equal(t, ReadinessDisconnected, reader.WaitReadable(time.Second))
}

func TestCloseUnblocksRead(t *testing.T) {
	_, reader := pipePair(t)

	done := make(chan struct{})
	go func() {
		_, _ = reader.ReadFrame()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	reader.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not return after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	writer, _ := pipePair(t)
	writer.Close()
	writer.Close()
	assert.True(t, writer.Closed())
}

func TestInterruptStopsIO(t *testing.T) {
	var stop atomic.Bool
	a, b := net.Pipe()
	reader := Wrap(b, stop.Load)
	t.Cleanup(func() { reader.Close(); a.Close() })

	done := make(chan error, 1)
	go func() {
		_, err := reader.ReadFrame()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	stop.Store(true)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt did not stop the read")
	}
}

func TestOpenPairFailsWhenEventEndpointMissing(t *testing.T) {
	cmdEp := Endpoint{Network: "tcp", Address: "127.0.0.1:0"}
	listener, err := Listen(cmdEp)
	require.NoError(t, err)
	defer listener.Close()
	cmdEp.Address = listener.Addr().String()

	evtEp := Endpoint{Network: "tcp", Address: "127.0.0.1:1"} // nothing listens here
	_, _, err = OpenPair(cmdEp, evtEp, nil)
	require.Error(t, err)
}
