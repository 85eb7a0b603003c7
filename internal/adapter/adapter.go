// Package adapter is the TCP (or serial) transport collaborator for the
// TCP-exposed adapter: it owns the socket, the reconnect backoff and the
// adapter init handshake described in spec.md §6, generalizing
// comm.RemoteDevice's Open/Close pattern from a terminator-delimited
// request/response protocol to a continuous, driver-polled octet stream.
package adapter

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// ErrNotConnected is returned by Drain/Write when no connection is open.
var ErrNotConnected = errors.New("adapter: not connected")

// ErrInitTimeout is returned by Open when the 0xC0 0x81 handshake echo does
// not arrive within InitTimeout, per spec.md §6's "Init-timeout" edge case.
var ErrInitTimeout = errors.New("adapter: init handshake timed out")

// initCmd is the two-octet handshake the adapter must echo back before the
// link is considered operational.
var initCmd = [2]byte{0xC0, 0x81}

// InitTimeout bounds how long Open waits for the handshake echo.
const InitTimeout = 2 * time.Second

// Adapter is a reconnecting byte-stream transport to the adapter. Unlike
// comm.RemoteDevice it is not terminator-framed: Drain reads whatever bytes
// are currently available (non-blocking, via a short deadline) so the link
// driver's cooperative loop never stalls waiting on the socket.
type Adapter struct {
	sync.Mutex

	Addr     string
	IsSerial bool
	Timeout  time.Duration

	Conn   io.ReadWriteCloser
	serCfg *serial.Config
}

// New returns an Adapter for addr. serCfg is only consulted when isSerial is
// true, mirroring comm.NewRemoteDevice's constructor shape.
func New(addr string, isSerial bool, serCfg *serial.Config) *Adapter {
	return &Adapter{
		Addr:     addr,
		IsSerial: isSerial,
		Timeout:  3 * time.Second,
		serCfg:   serCfg,
	}
}

// Open dials the adapter (with exponential backoff, as comm.RemoteDevice.Open
// does) and runs the init handshake. It is a no-op if already connected.
func (a *Adapter) Open() error {
	if a.Conn != nil {
		return nil
	}
	a.Lock()
	defer a.Unlock()

	op := func() error { return a.open() }
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return errors.Wrapf(err, "connecting to adapter at %s", a.Addr)
	}
	return a.handshake()
}

func (a *Adapter) open() error {
	var conn io.ReadWriteCloser
	var err error
	if a.IsSerial {
		if a.serCfg == nil {
			return errors.New("adapter: IsSerial is true but no serial.Config was supplied")
		}
		conn, err = serial.OpenPort(a.serCfg)
	} else {
		conn, err = net.DialTimeout("tcp", a.Addr, a.Timeout)
		if err == nil {
			if tc, ok := conn.(*net.TCPConn); ok {
				// Disable Nagle: the adapter link trades single octets and
				// pairs back and forth, and coalescing delays the echoes
				// the TX engine is pacing on.
				_ = tc.SetNoDelay(true)
			}
		}
	}
	if err != nil {
		return err
	}
	a.Conn = conn
	return nil
}

// handshake writes 0xC0 0x81 and waits up to InitTimeout for the same two
// octets to echo back, per spec.md §6.
func (a *Adapter) handshake() error {
	if conn, ok := a.Conn.(net.Conn); ok {
		conn.SetDeadline(time.Now().Add(InitTimeout))
		defer conn.SetDeadline(time.Time{})
	}
	if _, err := a.Conn.Write(initCmd[:]); err != nil {
		a.closeLocked()
		return errors.Wrap(err, "writing init handshake")
	}
	echo := make([]byte, 2)
	if _, err := io.ReadFull(a.Conn, echo); err != nil {
		a.closeLocked()
		return ErrInitTimeout
	}
	if echo[0] != initCmd[0] || echo[1] != initCmd[1] {
		a.closeLocked()
		return errors.New("adapter: init handshake echoed unexpected bytes")
	}
	return nil
}

// Close closes the connection, if any.
func (a *Adapter) Close() error {
	a.Lock()
	defer a.Unlock()
	return a.closeLocked()
}

func (a *Adapter) closeLocked() error {
	if a.Conn == nil {
		return nil
	}
	err := a.Conn.Close()
	a.Conn = nil
	return err
}

// Write sends raw octets (already enhanced-framed by the caller) to the
// adapter.
func (a *Adapter) Write(b []byte) error {
	if a.Conn == nil {
		return ErrNotConnected
	}
	if conn, ok := a.Conn.(net.Conn); ok {
		conn.SetWriteDeadline(time.Now().Add(a.Timeout))
	}
	_, err := a.Conn.Write(b)
	return errors.Wrap(err, "writing to adapter")
}

// drainDeadline bounds each non-blocking read attempt inside Drain: long
// enough to catch bytes already in the kernel buffer, short enough that the
// driver's cooperative loop keeps its pace.
const drainDeadline = 5 * time.Millisecond

// Drain reads whatever bytes are currently available without blocking the
// driver loop for longer than drainDeadline, returning io.EOF-free: a
// timeout with zero bytes read is reported as an empty slice and a nil
// error.
func (a *Adapter) Drain(buf []byte) ([]byte, error) {
	if a.Conn == nil {
		return nil, ErrNotConnected
	}
	conn, isNetConn := a.Conn.(net.Conn)
	if isNetConn {
		conn.SetReadDeadline(time.Now().Add(drainDeadline))
	}
	n, err := a.Conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return buf[:n], nil
		}
		a.Lock()
		a.closeLocked()
		a.Unlock()
		return buf[:n], errors.Wrap(err, "reading from adapter")
	}
	return buf[:n], nil
}
