// Package quic is a small client/server wrapper around transport.Conn: it
// owns the UDP socket, demultiplexes datagrams across connections by
// connection id, and drives each transport.Conn's read/write loop on its
// own goroutine.
package quic

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net"
	"sync"
	"time"

	"tinyquic/transport"
)

const scidLength = 16

// Handler reacts to the events a connection produces as it processes
// packets, the same shape transport.Conn.Events returns plus the two
// connection-lifecycle events this package adds.
type Handler interface {
	Serve(c *Conn, events []transport.Event)
}

// Connection-lifecycle events, layered on top of transport.EventType's
// stream-level vocabulary so both can flow through one Handler.Serve call.
const (
	EventConnAccept transport.EventType = 0xf0 + iota
	EventConnClose
)

// Conn is the public handle to one connection bound to a UDP peer address.
type Conn struct {
	scid []byte
	addr net.Addr
	conn *transport.Conn
}

func (c *Conn) RemoteAddr() net.Addr { return c.addr }

func (c *Conn) Stream(id uint64) (*transport.Stream, error) {
	return c.conn.Stream(id)
}

func (c *Conn) Close(app bool, errCode uint64, reason string) {
	c.conn.Close(app, errCode, reason)
}

// remoteConn pairs the public Conn with the bookkeeping the endpoint's read
// loop needs: the scid it is keyed by in Endpoint.conns and a synthetic
// one-shot accept event for Handler.Serve.
type remoteConn struct {
	scid      []byte
	addr      net.Addr
	conn      *transport.Conn
	pub       *Conn
	announced bool
}

// Endpoint multiplexes one UDP socket across many transport.Conns. NewClient
// and NewServer construct one in either role; the role only changes how an
// unrecognized datagram's connection id is treated (the server may accept a
// new connection for it, the client never does).
type Endpoint struct {
	config   *transport.Config
	handler  Handler
	isClient bool
	logger   logger

	mu       sync.Mutex
	socket   net.PacketConn
	conns    map[string]*remoteConn
	closed   bool
	doneCh   chan struct{}
}

func newEndpoint(config *transport.Config, isClient bool) *Endpoint {
	return &Endpoint{
		config:   config,
		isClient: isClient,
		conns:    make(map[string]*remoteConn),
		doneCh:   make(chan struct{}),
	}
}

// NewClient creates an Endpoint that only dials outward; inbound datagrams
// not matching a connection it already opened are dropped.
func NewClient(config *transport.Config) *Endpoint {
	return newEndpoint(config, true)
}

// NewServer creates an Endpoint that accepts a new connection for any
// inbound datagram whose destination cid it does not recognize.
func NewServer(config *transport.Config) *Endpoint {
	return newEndpoint(config, false)
}

func (e *Endpoint) SetHandler(h Handler) { e.handler = h }

func (e *Endpoint) SetLogger(level int, w io.Writer) {
	e.logger.level = logLevel(level)
	e.logger.setWriter(w)
}

// ListenAndServe opens the UDP socket and starts the background read loop.
func (e *Endpoint) ListenAndServe(addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.socket = conn
	e.mu.Unlock()
	go e.serve()
	return nil
}

func (e *Endpoint) serve() {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, addr, err := e.socket.ReadFrom(buf)
		if err != nil {
			return
		}
		e.handleDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

func (e *Endpoint) handleDatagram(b []byte, addr net.Addr) {
	dcid, err := transport.PeekDestinationCID(b, scidLength)
	if err != nil {
		return
	}
	key := hex.EncodeToString(dcid)
	e.mu.Lock()
	rc := e.conns[key]
	if rc == nil {
		if e.isClient {
			e.mu.Unlock()
			return
		}
		scid := make([]byte, scidLength)
		if _, err := rand.Read(scid); err != nil {
			e.mu.Unlock()
			return
		}
		tc, err := transport.Accept(scid, dcid, e.config)
		if err != nil {
			e.mu.Unlock()
			return
		}
		rc = &remoteConn{scid: scid, addr: addr, conn: tc}
		rc.pub = &Conn{scid: scid, addr: addr, conn: tc}
		e.conns[hex.EncodeToString(scid)] = rc
		e.logger.attachLogger(rc)
	}
	e.mu.Unlock()
	e.process(rc, b)
}

// process feeds one datagram through rc's transport.Conn, drains whatever
// events and reply datagrams it produced, and removes rc once it closes.
func (e *Endpoint) process(rc *remoteConn, b []byte) {
	if _, err := rc.conn.Write(b); err != nil {
		e.logger.log(levelError, "conn error addr=%s: %v", rc.addr, err)
	}
	e.flush(rc)
	events := rc.conn.Events(nil)
	if !rc.announced && rc.conn.IsEstablished() {
		rc.announced = true
		events = append([]transport.Event{{Type: EventConnAccept}}, events...)
	}
	if e.handler != nil && len(events) > 0 {
		e.handler.Serve(rc.pub, events)
	}
	e.flush(rc)
	if rc.conn.IsClosed() {
		e.mu.Lock()
		delete(e.conns, hex.EncodeToString(rc.scid))
		e.mu.Unlock()
		e.logger.detachLogger(rc)
		if e.handler != nil {
			e.handler.Serve(rc.pub, []transport.Event{{Type: EventConnClose}})
		}
	}
}

// flush drains every datagram rc.conn currently has queued to send.
func (e *Endpoint) flush(rc *remoteConn) {
	out := make([]byte, transport.MaxPacketSize)
	for {
		n, err := rc.conn.Read(out)
		if err != nil || n == 0 {
			return
		}
		e.socket.WriteTo(out[:n], rc.addr)
	}
}

// Connect dials a new client connection to addr and registers it for the
// read loop to drive once packets start arriving.
func (e *Endpoint) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	scid := make([]byte, scidLength)
	if _, err := rand.Read(scid); err != nil {
		return err
	}
	tc, err := transport.Connect(scid, e.config)
	if err != nil {
		return err
	}
	rc := &remoteConn{scid: scid, addr: raddr, conn: tc}
	rc.pub = &Conn{scid: scid, addr: raddr, conn: tc}
	e.mu.Lock()
	e.conns[hex.EncodeToString(scid)] = rc
	e.mu.Unlock()
	e.logger.attachLogger(rc)
	e.flush(rc)
	go e.pollTimeouts(rc)
	return nil
}

// pollTimeouts re-drives rc.conn when its idle/loss-recovery timer expires
// without a new datagram arriving to do it instead.
func (e *Endpoint) pollTimeouts(rc *remoteConn) {
	for {
		timeout := rc.conn.Timeout()
		if timeout < 0 {
			return
		}
		select {
		case <-time.After(timeout):
			e.process(rc, nil)
		case <-e.doneCh:
			return
		}
	}
}

// Close shuts down the socket and every connection still open on it.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*remoteConn, 0, len(e.conns))
	for _, rc := range e.conns {
		conns = append(conns, rc)
	}
	socket := e.socket
	e.mu.Unlock()
	close(e.doneCh)
	for _, rc := range conns {
		rc.conn.Close(false, uint64(transport.NoError), "")
		e.flush(rc)
	}
	if socket != nil {
		return socket.Close()
	}
	return nil
}
