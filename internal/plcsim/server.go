package plcsim

// In-process CIP/ENIP responder used by this module's tests and the local
// `serve` fixture. It registers sessions, answers Forward Open/Close and
// Get/Set Attribute Single, and serves assembly attribute buffers.

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/enip"
	"github.com/tturner/cipsession/internal/logging"
)

type attrKey struct {
	Class     uint16
	Instance  uint16
	Attribute uint16
}

// Options tunes simulator behavior for failure-path tests.
type Options struct {
	// SessionHandle is assigned to RegisterSession replies. Zero picks a
	// default of 0x000000AB.
	SessionHandle uint32
	// OTConnID / TOConnID are returned from Forward Open. Zero picks
	// defaults.
	OTConnID uint32
	TOConnID uint32
	// SetStatusOverrides forces the CIP general status of Set_Attribute_
	// Single replies per target attribute.
	SetStatusOverrides map[uint16]uint8
}

// Server is the simulator. Zero value is not usable; construct with New.
type Server struct {
	listener net.Listener
	logger   *logging.Logger
	opts     Options

	mu         sync.Mutex
	attributes map[attrKey][]byte
	conns      map[net.Conn]struct{}

	nextSession  uint32
	unregistered []uint32
	lastSeq      uint16

	// mute drops all replies while set, driving read timeouts on the peer.
	mute atomic.Bool
	// closeNext closes the TCP stream before replying to the next CIP
	// request, simulating a device dying mid-exchange.
	closeNext atomic.Bool

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New starts a simulator listening on addr ("127.0.0.1:0" for an ephemeral
// test port).
func New(addr string, opts Options, logger *logging.Logger) (*Server, error) {
	if opts.SessionHandle == 0 {
		opts.SessionHandle = 0x000000AB
	}
	if opts.OTConnID == 0 {
		opts.OTConnID = 0x11223344
	}
	if opts.TOConnID == 0 {
		opts.TOConnID = 0x55667788
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:   listener,
		logger:     logger,
		opts:       opts,
		attributes: make(map[attrKey][]byte),
		conns:      make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() *net.TCPAddr { return s.listener.Addr().(*net.TCPAddr) }

// Host and Port split the listening address.
func (s *Server) Host() string { return s.Addr().IP.String() }
func (s *Server) Port() int    { return s.Addr().Port }

// SetAttribute seeds (or replaces) an attribute value.
func (s *Server) SetAttribute(class, instance, attribute uint16, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes[attrKey{class, instance, attribute}] = append([]byte(nil), value...)
}

// Attribute returns the current attribute value.
func (s *Server) Attribute(class, instance, attribute uint16) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attributes[attrKey{class, instance, attribute}]
	return append([]byte(nil), v...), ok
}

// Mute stops the simulator from replying until unmuted.
func (s *Server) Mute(on bool) { s.mute.Store(on) }

// CloseNextExchange closes the stream before the next CIP reply.
func (s *Server) CloseNextExchange() { s.closeNext.Store(true) }

// UnregisteredHandles lists session handles torn down via UnregisterSession.
func (s *Server) UnregisteredHandles() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.unregistered...)
}

// LastSeq returns the sequence count of the last SendUnitData request.
func (s *Server) LastSeq() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Close stops the listener and drops every live connection.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		encap, err := s.readFrame(conn)
		if err != nil {
			return
		}

		reply, closeAfter := s.dispatch(encap)
		if s.mute.Load() {
			continue
		}
		if reply != nil {
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
		if closeAfter {
			return
		}
	}
}

func (s *Server) readFrame(conn net.Conn) (enip.ENIPEncapsulation, error) {
	header := make([]byte, 24)
	if _, err := io.ReadFull(conn, header); err != nil {
		return enip.ENIPEncapsulation{}, err
	}
	length := int(binary.LittleEndian.Uint16(header[2:4]))
	packet := header
	if length > 0 {
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return enip.ENIPEncapsulation{}, err
		}
		packet = append(header, body...)
	}
	return enip.DecodeENIP(packet)
}

// dispatch produces the reply frame for one request. A nil frame means no
// reply (NOP); closeAfter tears the stream down after any reply.
func (s *Server) dispatch(encap enip.ENIPEncapsulation) (reply []byte, closeAfter bool) {
	switch encap.Command {
	case enip.ENIPCommandNOP:
		return nil, false

	case enip.ENIPCommandRegisterSession:
		s.mu.Lock()
		handle := s.opts.SessionHandle + s.nextSession
		s.nextSession++
		s.mu.Unlock()
		return enip.EncodeENIP(enip.ENIPEncapsulation{
			Command:       enip.ENIPCommandRegisterSession,
			SessionID:     handle,
			SenderContext: encap.SenderContext,
			Data:          encap.Data,
		}), false

	case enip.ENIPCommandUnregisterSession:
		s.mu.Lock()
		s.unregistered = append(s.unregistered, encap.SessionID)
		s.mu.Unlock()
		return nil, true

	case enip.ENIPCommandListServices, enip.ENIPCommandListIdentity:
		return enip.EncodeENIP(enip.ENIPEncapsulation{
			Command:       encap.Command,
			SessionID:     encap.SessionID,
			SenderContext: encap.SenderContext,
		}), false

	case enip.ENIPCommandSendRRData:
		cipData, err := enip.ParseSendRRDataRequest(encap.Data)
		if err != nil {
			return s.encapError(encap, 0x03), false
		}
		cipReply := s.handleCIP(cipData)
		if s.closeNext.Swap(false) {
			return nil, true
		}
		return enip.BuildSendRRData(encap.SessionID, encap.SenderContext, cipReply), false

	case enip.ENIPCommandSendUnitData:
		_, connPayload, err := enip.ParseSendUnitDataRequest(encap.Data)
		if err != nil || len(connPayload) < 2 {
			return s.encapError(encap, 0x03), false
		}
		seq := binary.LittleEndian.Uint16(connPayload[:2])
		s.mu.Lock()
		s.lastSeq = seq
		s.mu.Unlock()

		cipReply := s.handleCIP(connPayload[2:])
		if s.closeNext.Swap(false) {
			return nil, true
		}
		return enip.BuildSendUnitData(encap.SessionID, encap.SenderContext, s.opts.TOConnID, seq, cipReply), false

	default:
		return s.encapError(encap, 0x01), false
	}
}

func (s *Server) encapError(encap enip.ENIPEncapsulation, status uint32) []byte {
	return enip.EncodeENIP(enip.ENIPEncapsulation{
		Command:       encap.Command,
		SessionID:     encap.SessionID,
		Status:        status,
		SenderContext: encap.SenderContext,
	})
}

func (s *Server) handleCIP(data []byte) []byte {
	req, err := cip.DecodeRequest(data)
	if err != nil {
		return cip.EncodeReply(cip.Reply{Service: 0, Status: cip.Status{General: 0x08}})
	}

	switch req.Service {
	case cip.ServiceForwardOpen:
		return cip.EncodeReply(cip.Reply{
			Service: req.Service,
			Status:  cip.Status{General: 0x00},
			Data:    s.forwardOpenReplyData(req.Data),
		})

	case cip.ServiceForwardClose:
		return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x00}})

	case cip.ServiceGetAttributeSingle:
		key, ok := pathKey(req.Path)
		if !ok {
			return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x05}})
		}
		s.mu.Lock()
		value, found := s.attributes[key]
		s.mu.Unlock()
		if !found {
			// attribute not supported
			return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x14}})
		}
		return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x00}, Data: value})

	case cip.ServiceSetAttributeSingle:
		key, ok := pathKey(req.Path)
		if !ok {
			return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x05}})
		}
		if override, found := s.opts.SetStatusOverrides[key.Attribute]; found && override != 0 {
			return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: override}})
		}
		s.mu.Lock()
		s.attributes[key] = append([]byte(nil), req.Data...)
		s.mu.Unlock()
		return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x00}})

	default:
		// service not supported
		return cip.EncodeReply(cip.Reply{Service: req.Service, Status: cip.Status{General: 0x08}})
	}
}

// forwardOpenReplyData builds the success reply body: connection IDs, the
// caller's serial, vendor, and originator serial, zero application reply.
func (s *Server) forwardOpenReplyData(reqData []byte) []byte {
	order := binary.LittleEndian
	buf := make([]byte, 0, 26)
	buf = order.AppendUint32(buf, s.opts.OTConnID)
	buf = order.AppendUint32(buf, s.opts.TOConnID)

	// Echo serial/vendor/originator from the request when present
	// (offsets per the Forward Open request layout).
	if len(reqData) >= 20 {
		buf = append(buf, reqData[12:20]...)
	} else {
		buf = append(buf, make([]byte, 8)...)
	}
	buf = append(buf, 0x00, 0x00) // O->T and T->O API placeholder trimmed
	return buf
}

func pathKey(path cip.CIPPath) (attrKey, bool) {
	class, okC := path.Class()
	instance, okI := path.Instance()
	attribute, okA := path.Attribute()
	if !okC || !okI || !okA {
		return attrKey{}, false
	}
	return attrKey{class, instance, attribute}, true
}
