package session

// Session orchestration: couples a caller-visible session id with pooled
// connections, a background heartbeat, and accumulated diagnostics.

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/config"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
	"github.com/tturner/cipsession/internal/plcconn"
	"github.com/tturner/cipsession/internal/plcpool"
	"github.com/tturner/cipsession/internal/telemetry"
)

// Transport selects how an exchange is framed on the wire.
type Transport int

const (
	// TransportAuto uses a Class 3 connected exchange when the connection
	// is Connected, falling back to unconnected SendRRData otherwise.
	TransportAuto Transport = iota
	TransportRR
	TransportUnit
)

// ConnectionStatus is the connection half of a session's diagnostics.
type ConnectionStatus struct {
	Connected        bool
	EnipConnectionID uint32
	OTConnID         uint32
	TOConnID         uint32
	Sequence         uint16
	LastStatus       cip.Status
}

// Diagnostics is the caller-visible snapshot of one session.
type Diagnostics struct {
	SessionID           string
	Host                string
	Port                int
	Connection          ConnectionStatus
	KeepAlivePatternHex string
	KeepAliveActive     bool
	LastActivity        time.Time
}

type session struct {
	id   string
	host string
	port int
	pool *plcpool.Pool

	// dispatchMu serializes external operations and the heartbeat probe on
	// this session, one at a time. It is a plain mutex: concurrent callers
	// are not guaranteed to acquire it in the order they arrived.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
	lastStatus   cip.Status
	connSnapshot ConnectionStatus
	hbFailures   int
	hbStop       chan struct{}
	hbDone       chan struct{}
}

func (s *session) markActivity(status cip.Status, conn *plcconn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	s.lastStatus = status
	if conn != nil {
		otID, toID := conn.ConnectionIDs()
		s.connSnapshot = ConnectionStatus{
			Connected:        conn.State() == plcconn.StateConnected,
			EnipConnectionID: conn.SessionHandle(),
			OTConnID:         otID,
			TOConnID:         toID,
			Sequence:         conn.Seq(),
			LastStatus:       status,
		}
	} else {
		s.connSnapshot.LastStatus = status
	}
}

// Orchestrator owns the session table and the per-endpoint pool table.
// Lock acquisition order is registry → sessions → pools.
type Orchestrator struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *telemetry.Metrics

	sessionsMu sync.Mutex
	sessions   map[string]*session

	poolsMu sync.Mutex
	pools   map[string]*plcpool.Pool

	// dial overrides connection construction in tests.
	dial func(host string, port int) *plcconn.Connection
}

// New creates an orchestrator from the process configuration. A nil metrics
// disables telemetry.
func New(cfg config.Config, logger *logging.Logger, metrics *telemetry.Metrics) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*session),
		pools:    make(map[string]*plcpool.Pool),
	}
}

// SetDial overrides how pool connections are constructed. Test hook.
func (o *Orchestrator) SetDial(dial func(host string, port int) *plcconn.Connection) {
	o.dial = dial
}

func (o *Orchestrator) poolFor(host string, port int) *plcpool.Pool {
	key := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	o.poolsMu.Lock()
	defer o.poolsMu.Unlock()
	if p, ok := o.pools[key]; ok {
		return p
	}
	p := plcpool.New(host, port, o.cfg.PoolSize, o.logger, o.metrics)
	if o.dial != nil {
		dial := o.dial
		p.SetDial(func() *plcconn.Connection { return dial(host, port) })
	}
	o.pools[key] = p
	return p
}

func (o *Orchestrator) lookup(id string) (*session, error) {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, cerr.New(cerr.KindUnknownSession, fmt.Sprintf("unknown session %q", id))
	}
	return s, nil
}

// Open creates a session against host:port (falling back to the configured
// defaults), verifies a Class 3 connection can be established, and starts
// the keep-alive task. Returns the new session's diagnostics.
func (o *Orchestrator) Open(ctx context.Context, host string, port int) (Diagnostics, error) {
	if host == "" {
		host = o.cfg.Host
	}
	if port == 0 {
		port = o.cfg.Port
	}

	pool := o.poolFor(host, port)
	s := &session{
		id:     uuid.NewString(),
		host:   host,
		port:   port,
		pool:   pool,
		hbStop: make(chan struct{}),
		hbDone: make(chan struct{}),
	}

	// Verify the endpoint accepts a connected session before the session
	// becomes visible.
	lease, err := pool.Acquire(ctx)
	if err != nil {
		return Diagnostics{}, err
	}
	if err := o.ensureConnected(ctx, lease.Conn); err != nil {
		lease.Release(ctx)
		return Diagnostics{}, err
	}
	s.markActivity(cip.Status{}, lease.Conn)
	lease.Release(ctx)

	o.sessionsMu.Lock()
	o.sessions[s.id] = s
	o.sessionsMu.Unlock()

	o.metrics.SessionOpened()
	if o.logger != nil {
		o.logger.Info("session %s opened against %s:%d", s.id, host, port)
	}

	// The heartbeat holds only the session id and its control channels,
	// never the session struct: lookups that miss the table exit silently.
	go o.heartbeatLoop(s.id, s.hbStop, s.hbDone)

	return o.diagnostics(s), nil
}

// ensureConnected drives the connection to Connected, performing Forward
// Open when only Registered.
func (o *Orchestrator) ensureConnected(ctx context.Context, conn *plcconn.Connection) error {
	if conn.State() == plcconn.StateConnected {
		return nil
	}
	params := plcconn.DefaultForwardOpenParams(0x02, 0x01) // Message Router
	return conn.Connect(ctx, params)
}

// Close cancels the heartbeat, closes the session's pooled connection
// usage, and removes the session from the table. Closing an unknown or
// already-closed session is a no-op.
func (o *Orchestrator) Close(ctx context.Context, id string) error {
	o.sessionsMu.Lock()
	s, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.sessionsMu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}

	close(s.hbStop)
	<-s.hbDone

	o.metrics.SessionClosed()
	if o.logger != nil {
		o.logger.Info("session %s closed", id)
	}

	s.mu.Lock()
	s.connSnapshot.Connected = false
	s.mu.Unlock()
	return nil
}

// CloseAll closes every session and drains every pool.
func (o *Orchestrator) CloseAll(ctx context.Context) {
	o.sessionsMu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.sessionsMu.Unlock()
	for _, id := range ids {
		o.Close(ctx, id)
	}

	o.poolsMu.Lock()
	pools := make([]*plcpool.Pool, 0, len(o.pools))
	for _, p := range o.pools {
		pools = append(pools, p)
	}
	o.poolsMu.Unlock()
	for _, p := range pools {
		p.Drain(ctx)
	}
}

// Sessions lists the ids of all open sessions.
func (o *Orchestrator) Sessions() []string {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Diagnostics returns the session's diagnostic snapshot.
func (o *Orchestrator) Diagnostics(id string) (Diagnostics, error) {
	s, err := o.lookup(id)
	if err != nil {
		return Diagnostics{}, err
	}
	return o.diagnostics(s), nil
}

func (o *Orchestrator) diagnostics(s *session) Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Diagnostics{
		SessionID:           s.id,
		Host:                s.host,
		Port:                s.port,
		Connection:          s.connSnapshot,
		KeepAlivePatternHex: hex.EncodeToString(o.cfg.KeepAlivePattern()),
		KeepAliveActive:     !s.closed,
		LastActivity:        s.lastActivity,
	}
}

// Exchange performs one CIP request on the session. It acquires the
// session's connection from the pool, re-establishing it when broken,
// issues the exchange over the selected transport, records diagnostics,
// and releases the connection. Calls on one session run one at a time; the
// order among concurrently waiting calls is not guaranteed to be their
// arrival order.
func (o *Orchestrator) Exchange(ctx context.Context, id string, service uint8, path cip.CIPPath, payload []byte, transport Transport) (cip.Status, []byte, error) {
	s, err := o.lookup(id)
	if err != nil {
		return cip.Status{}, nil, err
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return cip.Status{}, nil, cerr.New(cerr.KindSessionClosed, fmt.Sprintf("session %q is closed", id))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.OperationTimeout())
		defer cancel()
	}

	start := time.Now()
	status, data, err := o.exchangeOnce(ctx, s, service, path, payload, transport)
	rttMs := float64(time.Since(start).Microseconds()) / 1000.0
	o.metrics.ObserveRequest(fmt.Sprintf("0x%02X", service), start, errorKind(err))
	if o.logger != nil {
		o.logger.LogExchange(operationName(service), net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)), service, status.General, rttMs, err)
	}
	if err != nil {
		return cip.Status{}, nil, err
	}
	return status, data, nil
}

func operationName(service uint8) string {
	switch service {
	case cip.ServiceGetAttributeSingle:
		return "read"
	case cip.ServiceSetAttributeSingle:
		return "write"
	case cip.ServiceForwardOpen:
		return "forward_open"
	case cip.ServiceForwardClose:
		return "forward_close"
	default:
		return "exchange"
	}
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var e *cerr.Error
	if asErr(err, &e) {
		return e.Kind.String()
	}
	return "unknown"
}

func (o *Orchestrator) exchangeOnce(ctx context.Context, s *session, service uint8, path cip.CIPPath, payload []byte, transport Transport) (cip.Status, []byte, error) {
	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return cip.Status{}, nil, err
	}
	defer lease.Release(ctx)

	conn := lease.Conn
	if transport != TransportRR {
		if err := o.ensureConnected(ctx, conn); err != nil {
			if transport == TransportUnit {
				return cip.Status{}, nil, err
			}
			// Auto transport tolerates an unconnected peer.
		}
	}

	var status cip.Status
	var data []byte
	switch {
	case transport == TransportUnit, transport == TransportAuto && conn.State() == plcconn.StateConnected:
		status, data, err = conn.RequestUnit(ctx, service, path, payload)
	default:
		status, data, err = conn.RequestRR(ctx, service, path, payload)
	}
	if err != nil {
		// A deadline abort leaves a dangling reply pending; make sure the
		// pool replaces the connection instead of reusing it.
		if ctx.Err() != nil {
			conn.MarkBroken()
		}
		return cip.Status{}, nil, err
	}

	s.markActivity(status, conn)
	return status, data, nil
}
