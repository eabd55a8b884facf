package plcsim

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/enip"
)

func dialSim(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn net.Conn) enip.ENIPEncapsulation {
	t.Helper()
	header := make([]byte, 24)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length := int(binary.LittleEndian.Uint16(header[2:4]))
	packet := header
	if length > 0 {
		body := make([]byte, length)
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
		packet = append(header, body...)
	}
	encap, err := enip.DecodeENIP(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return encap
}

func TestRegisterSessionAssignsHandle(t *testing.T) {
	s, err := New("127.0.0.1:0", Options{SessionHandle: 0x000000AB}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	conn := dialSim(t, s)
	ctxBytes := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := conn.Write(enip.BuildRegisterSession(ctxBytes)); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply := readFrame(t, conn)
	if reply.Command != enip.ENIPCommandRegisterSession {
		t.Fatalf("command: 0x%04X", reply.Command)
	}
	if reply.SessionID != 0x000000AB {
		t.Fatalf("handle: 0x%08X", reply.SessionID)
	}
	if reply.SenderContext != ctxBytes {
		t.Fatalf("sender context not echoed")
	}
}

func TestGetAttributeSingleServesSeededValue(t *testing.T) {
	s, err := New("127.0.0.1:0", Options{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	s.SetAttribute(4, 1, 3, []byte{0xDE, 0xAD})

	conn := dialSim(t, s)
	var ctxBytes [8]byte
	conn.Write(enip.BuildRegisterSession(ctxBytes))
	reg := readFrame(t, conn)

	req := cip.EncodeRequest(cip.Request{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ClassInstanceAttribute(4, 1, 3),
	})
	conn.Write(enip.BuildSendRRData(reg.SessionID, ctxBytes, req))

	encap := readFrame(t, conn)
	payload, err := enip.ParseSendRRDataResponse(encap.Data)
	if err != nil {
		t.Fatalf("parse CPF: %v", err)
	}
	reply, err := cip.DecodeReply(payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.Status.OK() || !bytes.Equal(reply.Data, []byte{0xDE, 0xAD}) {
		t.Fatalf("reply: %+v", reply)
	}
}

func TestUnknownAttributeStatus(t *testing.T) {
	s, err := New("127.0.0.1:0", Options{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	conn := dialSim(t, s)
	var ctxBytes [8]byte
	conn.Write(enip.BuildRegisterSession(ctxBytes))
	reg := readFrame(t, conn)

	req := cip.EncodeRequest(cip.Request{
		Service: cip.ServiceGetAttributeSingle,
		Path:    cip.ClassInstanceAttribute(9, 9, 9),
	})
	conn.Write(enip.BuildSendRRData(reg.SessionID, ctxBytes, req))

	encap := readFrame(t, conn)
	payload, _ := enip.ParseSendRRDataResponse(encap.Data)
	reply, err := cip.DecodeReply(payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Status.General != 0x14 {
		t.Fatalf("status: %v", reply.Status)
	}
}
