// Package channel provides the two named byte-stream channels the shim
// speaks over. The fixed logical names map to Unix domain sockets under a
// runtime directory; the harness may point them at TCP endpoints instead.
// All I/O is interruptible so Stop() stays bounded.
package channel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Fixed channel names. The command channel carries shim→core frames, the
// event channel core→shim frames.
const (
	CmdChannelName = "aegis_cmd_v1"
	EvtChannelName = "aegis_evt_v1"
)

// DialTimeout bounds a single connection attempt so the reconnect loop
// keeps its 250 ms cadence even when nothing is listening.
const DialTimeout = 250 * time.Millisecond

var ErrClosed = errors.New("channel: closed")

// Endpoint names one channel's address.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Network, e.Address)
}

// DefaultEndpoints resolves the fixed channel names to Unix socket paths
// under dir. An empty dir falls back to the OS temp directory.
func DefaultEndpoints(dir string) (cmd, evt Endpoint) {
	if dir == "" {
		dir = os.TempDir()
	}
	cmd = Endpoint{Network: "unix", Address: filepath.Join(dir, CmdChannelName+".sock")}
	evt = Endpoint{Network: "unix", Address: filepath.Join(dir, EvtChannelName+".sock")}
	return cmd, evt
}

// Dial opens one endpoint. interrupt is consulted by the returned Conn
// between I/O slices; it may be nil.
func Dial(ep Endpoint, interrupt func() bool) (*Conn, error) {
	raw, err := net.DialTimeout(ep.Network, ep.Address, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return newConn(raw, interrupt), nil
}

// OpenPair opens the command channel then the event channel. Opening only
// one is a failure: the half that succeeded is closed and an error is
// returned so the supervisor can back off and retry.
func OpenPair(cmdEp, evtEp Endpoint, interrupt func() bool) (cmd, evt *Conn, err error) {
	cmd, err = Dial(cmdEp, interrupt)
	if err != nil {
		return nil, nil, err
	}
	evt, err = Dial(evtEp, interrupt)
	if err != nil {
		cmd.Close()
		return nil, nil, err
	}
	return cmd, evt, nil
}

// Listen binds an endpoint for the peer side (mock core, tests). Stale
// Unix socket files from a previous run are removed first.
func Listen(ep Endpoint) (net.Listener, error) {
	if ep.Network == "unix" {
		_ = os.Remove(ep.Address)
	}
	l, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", ep, err)
	}
	return l, nil
}
