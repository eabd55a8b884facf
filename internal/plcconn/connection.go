package plcconn

// Connection state machine for one PLC endpoint: RegisterSession,
// Forward Open/Close, and serialized request/response exchanges.

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/enip"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
)

// State tracks the connection lifecycle: Closed → Registered → Connected.
// Broken is a terminal failure state; the pool discards broken connections
// instead of reusing them.
type State int

const (
	StateClosed State = iota
	StateRegistered
	StateConnected
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateRegistered:
		return "registered"
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

const defaultIOTimeout = 5 * time.Second

// Connection owns one TCP socket to a PLC endpoint. Exactly one
// request/response exchange runs at a time; callers are serialized on an
// internal mutex.
type Connection struct {
	host string
	port int

	mu            sync.Mutex
	conn          net.Conn
	state         State
	sessionHandle uint32
	senderContext [8]byte
	otConnID      uint32
	toConnID      uint32
	connSerial    uint16
	seq           uint16
	ioTimeout     time.Duration
	lastActivity  time.Time
	logger        *logging.Logger
}

// NewConnection creates an unopened connection to host:port. A nil logger
// disables logging.
func NewConnection(host string, port int, logger *logging.Logger) *Connection {
	c := &Connection{
		host:      host,
		port:      port,
		state:     StateClosed,
		ioTimeout: defaultIOTimeout,
		logger:    logger,
	}
	if _, err := rand.Read(c.senderContext[:]); err != nil {
		// crypto/rand never fails on supported platforms; zero context is
		// still protocol-legal if it somehow does.
		c.senderContext = [8]byte{}
	}
	return c
}

// SetIOTimeout overrides the per-exchange read/write timeout used when the
// caller's context carries no deadline of its own.
func (c *Connection) SetIOTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.ioTimeout = d
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Broken reports whether the connection has been marked broken.
func (c *Connection) Broken() bool { return c.State() == StateBroken }

// SessionHandle returns the ENIP session handle (non-zero once Registered).
func (c *Connection) SessionHandle() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionHandle
}

// ConnectionIDs returns the Forward Open O->T and T->O connection IDs.
func (c *Connection) ConnectionIDs() (uint32, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.otConnID, c.toConnID
}

// LastActivity returns the time of the last completed exchange.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// MarkBroken forces the connection into the broken state, e.g. after a
// caller-side deadline aborted an in-flight read and a dangling reply may
// still be pending on the socket.
func (c *Connection) MarkBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markBrokenLocked()
}

func (c *Connection) markBrokenLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateBroken
}

// Open establishes TCP to the endpoint and performs ENIP RegisterSession
// (protocol version 1, options 0). Transitions Closed → Registered.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClosed {
		return cerr.New(cerr.KindTransport, fmt.Sprintf("open in state %s", c.state))
	}

	dialer := net.Dialer{Timeout: c.ioTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port)))
	if err != nil {
		if ctx.Err() != nil {
			return cerr.Wrap(cerr.KindCancelled, "dial aborted", err)
		}
		return cerr.Wrap(cerr.KindTransport, fmt.Sprintf("dial %s:%d", c.host, c.port), err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
	}
	c.conn = conn

	reply, err := c.exchangeLocked(ctx, enip.BuildRegisterSession(c.senderContext))
	if err != nil {
		c.markBrokenLocked()
		return err
	}
	if reply.Command != enip.ENIPCommandRegisterSession {
		c.markBrokenLocked()
		return cerr.New(cerr.KindMalformedFrame, fmt.Sprintf("unexpected reply command 0x%04X to RegisterSession", reply.Command))
	}
	if reply.Status != enip.ENIPStatusSuccess || reply.SessionID == 0 {
		c.markBrokenLocked()
		return cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("RegisterSession failed: status=0x%08X handle=0x%08X", reply.Status, reply.SessionID))
	}

	c.sessionHandle = reply.SessionID
	c.state = StateRegistered
	c.lastActivity = time.Now()
	if c.logger != nil {
		c.logger.Verbose("registered ENIP session 0x%08X with %s:%d", c.sessionHandle, c.host, c.port)
	}
	return nil
}

// Connect performs a CIP Forward Open against the Connection Manager
// (class 0x06, instance 1) and records the Class 3 connection IDs.
// Transitions Registered → Connected.
func (c *Connection) Connect(ctx context.Context, params ForwardOpenParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRegistered {
		return cerr.New(cerr.KindTransport, fmt.Sprintf("forward open in state %s", c.state))
	}

	c.connSerial = nextConnectionSerial()
	req := cip.Request{
		Service: cip.ServiceForwardOpen,
		Path:    cip.ClassInstance(0x06, 0x01),
		Data:    encodeForwardOpenData(c.connSerial, params),
	}

	status, replyData, err := c.requestRRLocked(ctx, req)
	if err != nil {
		c.markBrokenLocked()
		return err
	}
	if !status.OK() {
		// A refused Forward Open is transport-critical per the propagation
		// policy: the registered session is torn down with the connection.
		c.markBrokenLocked()
		return cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("Forward Open rejected: %s", status))
	}

	fo, err := decodeForwardOpenReply(replyData)
	if err != nil {
		c.markBrokenLocked()
		return cerr.Wrap(cerr.KindMalformedFrame, "Forward Open reply", err)
	}

	c.otConnID = fo.OToTConnID
	c.toConnID = fo.TToOConnID
	c.seq = 0
	c.state = StateConnected
	c.lastActivity = time.Now()
	if c.logger != nil {
		c.logger.Verbose("forward open: o_t=0x%08X t_o=0x%08X serial=0x%04X", c.otConnID, c.toConnID, c.connSerial)
	}
	return nil
}

// RequestRR sends a CIP request as an UnconnectedData item via SendRRData
// and returns the CIP status and reply payload. Requires at least Registered.
func (c *Connection) RequestRR(ctx context.Context, service uint8, path cip.CIPPath, payload []byte) (cip.Status, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRegistered && c.state != StateConnected {
		return cip.Status{}, nil, cerr.New(cerr.KindTransport, fmt.Sprintf("request_rr in state %s", c.state))
	}
	status, data, err := c.requestRRLocked(ctx, cip.Request{Service: service, Path: path, Data: payload})
	if err != nil {
		return cip.Status{}, nil, err
	}
	c.lastActivity = time.Now()
	return status, data, nil
}

func (c *Connection) requestRRLocked(ctx context.Context, req cip.Request) (cip.Status, []byte, error) {
	frame := enip.BuildSendRRData(c.sessionHandle, c.senderContext, cip.EncodeRequest(req))
	encap, err := c.exchangeLocked(ctx, frame)
	if err != nil {
		return cip.Status{}, nil, err
	}
	if encap.Status != enip.ENIPStatusSuccess {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("SendRRData reply status 0x%08X", encap.Status))
	}

	cipPayload, err := enip.ParseSendRRDataResponse(encap.Data)
	if err != nil {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.Wrap(cerr.KindMalformedFrame, "SendRRData response", err)
	}
	reply, err := cip.DecodeReply(cipPayload)
	if err != nil {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.Wrap(cerr.KindMalformedFrame, "CIP reply", err)
	}
	return reply.Status, reply.Data, nil
}

// RequestUnit sends a CIP request as a Class 3 connected exchange via
// SendUnitData, pre-incrementing the per-connection sequence counter.
// Requires Connected.
func (c *Connection) RequestUnit(ctx context.Context, service uint8, path cip.CIPPath, payload []byte) (cip.Status, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return cip.Status{}, nil, cerr.New(cerr.KindTransport, fmt.Sprintf("request_unit in state %s", c.state))
	}

	c.seq++ // wraps at 2^16 by uint16 arithmetic
	req := cip.Request{Service: service, Path: path, Data: payload}
	frame := enip.BuildSendUnitData(c.sessionHandle, c.senderContext, c.otConnID, c.seq, cip.EncodeRequest(req))

	encap, err := c.exchangeLocked(ctx, frame)
	if err != nil {
		return cip.Status{}, nil, err
	}
	if encap.Status != enip.ENIPStatusSuccess {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("SendUnitData reply status 0x%08X", encap.Status))
	}

	_, connPayload, err := enip.ParseSendUnitDataResponse(encap.Data)
	if err != nil {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.Wrap(cerr.KindMalformedFrame, "SendUnitData response", err)
	}
	if len(connPayload) < 2 {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.New(cerr.KindMalformedFrame, "connected reply missing sequence count")
	}
	reply, err := cip.DecodeReply(connPayload[2:])
	if err != nil {
		c.markBrokenLocked()
		return cip.Status{}, nil, cerr.Wrap(cerr.KindMalformedFrame, "CIP reply", err)
	}
	c.lastActivity = time.Now()
	return reply.Status, reply.Data, nil
}

// Seq returns the current Class 3 sequence counter value.
func (c *Connection) Seq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Probe issues the session heartbeat: a ListServices exchange when the
// connection is Connected (the reply doubles as a liveness check), or a
// write-only ENIP NOP carrying the opaque keep-alive pattern when it is only
// Registered. In any other state it returns an error.
func (c *Connection) Probe(ctx context.Context, pattern []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnected:
		reply, err := c.exchangeLocked(ctx, enip.BuildListServices(c.sessionHandle, c.senderContext))
		if err != nil {
			return err
		}
		if reply.Status != enip.ENIPStatusSuccess {
			return cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("ListServices status 0x%08X", reply.Status))
		}
		c.lastActivity = time.Now()
		return nil
	case StateRegistered:
		if err := c.writeLocked(ctx, enip.BuildNOP(c.senderContext, pattern)); err != nil {
			return err
		}
		c.lastActivity = time.Now()
		return nil
	default:
		return cerr.New(cerr.KindTransport, fmt.Sprintf("probe in state %s", c.state))
	}
}

// SendNOP writes an ENIP NOP frame carrying the given opaque pattern. NOP
// has no reply; the receiver discards the data.
func (c *Connection) SendNOP(ctx context.Context, pattern []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return cerr.New(cerr.KindTransport, "nop on closed connection")
	}
	if err := c.writeLocked(ctx, enip.BuildNOP(c.senderContext, pattern)); err != nil {
		return err
	}
	c.lastActivity = time.Now()
	return nil
}

// Close sends Forward Close if Connected and UnregisterSession if
// Registered, then closes the socket. The connection always ends in
// StateClosed; the first teardown error is returned, later ones are logged
// and swallowed.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err == nil {
			return
		}
		if firstErr == nil {
			firstErr = err
		} else if c.logger != nil {
			c.logger.Verbose("teardown: %v", err)
		}
	}

	if c.state == StateConnected && c.conn != nil {
		req := cip.Request{
			Service: cip.ServiceForwardClose,
			Path:    cip.ClassInstance(0x06, 0x01),
			Data:    encodeForwardCloseData(c.connSerial),
		}
		status, _, err := c.requestRRLocked(ctx, req)
		record(err)
		if err == nil && !status.OK() {
			record(cerr.New(cerr.KindEnipProtocol, fmt.Sprintf("Forward Close rejected: %s", status)))
		}
	}

	if (c.state == StateRegistered || c.state == StateConnected) && c.conn != nil {
		// UnregisterSession carries no reply; the peer just drops the session.
		record(c.writeLocked(ctx, enip.BuildUnregisterSession(c.sessionHandle, c.senderContext)))
	}

	if c.conn != nil {
		record(c.conn.Close())
		c.conn = nil
	}

	c.state = StateClosed
	c.sessionHandle = 0
	c.otConnID = 0
	c.toConnID = 0
	c.seq = 0
	return firstErr
}

func (c *Connection) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.ioTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

func (c *Connection) writeLocked(ctx context.Context, frame []byte) error {
	if c.conn == nil {
		return cerr.New(cerr.KindTransport, "write on closed connection")
	}
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return cerr.Wrap(cerr.KindTransport, "set write deadline", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.markBrokenLocked()
		if ctx.Err() != nil {
			return cerr.Wrap(cerr.KindCancelled, "write aborted", err)
		}
		return cerr.Wrap(cerr.KindTransport, "write", err)
	}
	return nil
}

// exchangeLocked performs one length-prefixed request/response round trip:
// write the frame, read the 24-byte encapsulation header, then read exactly
// the declared number of data bytes. Any partial read marks the connection
// broken.
func (c *Connection) exchangeLocked(ctx context.Context, frame []byte) (enip.ENIPEncapsulation, error) {
	if err := c.writeLocked(ctx, frame); err != nil {
		return enip.ENIPEncapsulation{}, err
	}

	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindTransport, "set read deadline", err)
	}

	header := make([]byte, 24)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.markBrokenLocked()
		if ctx.Err() != nil {
			return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindCancelled, "read aborted", err)
		}
		return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindTransport, "read header", err)
	}

	length := int(enip.CurrentOptions().ByteOrder.Uint16(header[2:4]))
	packet := header
	if length > 0 {
		body := make([]byte, length)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			c.markBrokenLocked()
			if ctx.Err() != nil {
				return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindCancelled, "read aborted", err)
			}
			return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindTransport, fmt.Sprintf("read %d body bytes", length), err)
		}
		packet = append(header, body...)
	}

	encap, err := enip.DecodeENIP(packet)
	if err != nil {
		c.markBrokenLocked()
		return enip.ENIPEncapsulation{}, cerr.Wrap(cerr.KindMalformedFrame, "encapsulation", err)
	}
	return encap, nil
}

var (
	serialMu   sync.Mutex
	nextSerial uint16 = 1
)

// nextConnectionSerial hands out process-unique Forward Open connection
// serial numbers so two pool entries to the same target never collide.
func nextConnectionSerial() uint16 {
	serialMu.Lock()
	defer serialMu.Unlock()
	s := nextSerial
	nextSerial++
	if nextSerial == 0 {
		nextSerial = 1
	}
	return s
}
