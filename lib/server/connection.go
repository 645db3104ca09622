// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

// TypeConnection is the namespace type under which live connections
// are published. Connections share the access-control base, so viewing
// them needs view access on "permission" and disconnecting a client by
// removing its object needs configure access.
const TypeConnection = "connection"

// State is the lifecycle state of a connection.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	readBufferSize = 32 * 1024

	// flushTimeout bounds the final write of queued output when a
	// connection closes.
	flushTimeout = 2 * time.Second
)

var (
	errNotAuthenticated = errors.New("not logged in")
	errDisconnected     = errors.New("disconnected by administrator")
	errShutdown         = errors.New("server shutting down")
)

// Connection is one client session. It is also a namespace object of
// type [TypeConnection], named by the client's remote address.
//
// The reader goroutine owns the decoder; the processor owns the watch
// set and the pending objects. State, user and the outbound queue are
// safe for concurrent use.
type Connection struct {
	server    *Server
	conn      net.Conn
	name      string
	address   string
	addr      netip.Addr
	sessionID int64
	connected time.Time

	decoder *message.Decoder
	out     *outbound

	state atomic.Int32

	mu   sync.RWMutex
	user string

	closeOnce sync.Once
	closed    chan struct{}

	watching map[string]struct{}
	pending  map[string]*namespace.Pending
}

func newConnection(s *Server, conn net.Conn, sessionID int64) *Connection {
	address := conn.RemoteAddr().String()
	return &Connection{
		server:    s,
		conn:      conn,
		name:      connectionName(address, sessionID),
		address:   address,
		addr:      remoteAddr(conn.RemoteAddr()),
		sessionID: sessionID,
		connected: s.clock.Now(),
		decoder:   message.NewDecoder(message.Limits{MaxFrameBytes: s.config.MaxFrameBytes}),
		out:       newOutbound(),
		closed:    make(chan struct{}),
		watching:  make(map[string]struct{}),
		pending:   make(map[string]*namespace.Pending),
	}
}

// connectionName is the remote address when it is a usable host:port,
// otherwise a name derived from the session id. Pipes and unnamed Unix
// peers all report the same address.
func connectionName(address string, sessionID int64) string {
	if _, _, err := net.SplitHostPort(address); err == nil && name.ValidSegment(address) {
		return address
	}
	return fmt.Sprintf("session-%d", sessionID)
}

func remoteAddr(a net.Addr) netip.Addr {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap()
	}
	if addrPort, err := netip.ParseAddrPort(a.String()); err == nil {
		return addrPort.Addr().Unmap()
	}
	return netip.Addr{}
}

func (c *Connection) TypeName() string   { return TypeConnection }
func (c *Connection) ObjectName() string { return c.name }

// Destroy closes the connection. It runs when a sufficiently privileged
// client removes the connection's object.
func (c *Connection) Destroy() { c.close(errDisconnected) }

// SessionID returns the session identifier.
func (c *Connection) SessionID() int64 { return c.sessionID }

// Address returns the remote address as reported by the socket.
func (c *Connection) Address() string { return c.address }

// Addr returns the remote IP address, or the zero Addr for transports
// without one.
func (c *Connection) Addr() netip.Addr { return c.addr }

// Connected returns the time the connection was accepted.
func (c *Connection) Connected() time.Time { return c.connected }

func (c *Connection) State() State { return State(c.state.Load()) }

// User returns the logged-in user name, or "" before login.
func (c *Connection) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Connection) authenticate(user string) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated))
}

func (c *Connection) caller() namespace.Caller { return namespace.User(c.User()) }

// send queues encoded frames. Output for a closed connection is
// dropped.
func (c *Connection) send(data []byte) {
	if c.State() == StateClosed {
		return
	}
	c.out.write(data)
}

func (c *Connection) reply(code message.Code, params ...string) {
	data, err := message.Append(nil, code, params...)
	if err != nil {
		c.server.logger.Error("encoding reply", "session", c.sessionID, "code", code, "error", err)
		return
	}
	c.send(data)
}

func (c *Connection) showError(err error) {
	c.reply(message.Show, showText(err))
}

// showText renders an error for a SHOW frame. Separator bytes cannot
// appear in a parameter, so they are replaced.
func showText(err error) string {
	return strings.Map(func(r rune) rune {
		if r == rune(message.RecordSeparator) || r == rune(message.UnitSeparator) {
			return ' '
		}
		return r
	}, err.Error())
}

// close moves the connection to StateClosed and retires its session.
// The writer flushes whatever is queued, bounded by flushTimeout, and
// closes the socket. Only the first call has any effect.
func (c *Connection) close(reason error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.conn.SetWriteDeadline(time.Now().Add(flushTimeout))
		c.server.retire(c, reason)
		close(c.closed)
	})
}

func (c *Connection) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
			if !c.dispatch() {
				return
			}
		}
		if err != nil {
			c.close(err)
			return
		}
	}
}

// dispatch hands every complete buffered frame to the processor. It
// returns false if the stream is beyond recovery.
func (c *Connection) dispatch() bool {
	for {
		frame, ok, err := c.decoder.Next()
		switch {
		case errors.Is(err, message.ErrFrameTooLarge):
			c.close(err)
			return false
		case err != nil:
			// Reported in order with the replies to earlier frames.
			c.server.submit(task{conn: c, op: "decode", run: func(context.Context) error { return err }})
			continue
		case !ok:
			return true
		}
		c.server.metrics.frames.WithLabelValues(frame.Code.String()).Inc()
		c.server.submitFrame(c, frame)
	}
}

func (c *Connection) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case <-c.out.ready:
			if err := c.flush(); err != nil {
				c.close(err)
				return
			}
		case <-c.closed:
			c.flush()
			return
		}
	}
}

func (c *Connection) flush() error {
	data := c.out.take()
	if len(data) == 0 {
		return nil
	}
	_, err := c.conn.Write(data)
	return err
}

// connectionSchema publishes connections read-only. They are neither
// creatable nor persistent.
func connectionSchema() namespace.Schema {
	return namespace.Schema{
		Type: TypeConnection,
		Base: access.Base,
		Attributes: []namespace.Attribute{
			namespace.String("user", (*Connection).User, nil),
			namespace.Int("sessionId", func(c *Connection) int { return int(c.sessionID) }, nil),
			namespace.String("connected", func(c *Connection) string {
				return c.connected.UTC().Format(time.RFC3339)
			}, nil),
		},
	}
}
