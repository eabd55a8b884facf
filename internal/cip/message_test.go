package cip

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := Request{
		Service: ServiceGetAttributeSingle,
		Path:    ClassInstanceAttribute(4, 1, 3),
		Data:    nil,
	}
	encoded := EncodeRequest(req)
	want := []byte{0x0E, 0x03, 0x20, 0x04, 0x24, 0x01, 0x30, 0x03}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("got %x, want %x", encoded, want)
	}

	decoded, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if decoded.Service != req.Service {
		t.Fatalf("service: got 0x%02X", decoded.Service)
	}
	if class, _ := decoded.Path.Class(); class != 4 {
		t.Fatalf("class: got %d", class)
	}
}

func TestEncodeDecodeReplySuccess(t *testing.T) {
	reply := Reply{Service: ServiceGetAttributeSingle, Status: Status{General: 0}, Data: []byte{0x11, 0x22}}
	encoded := EncodeReply(reply)

	decoded, err := DecodeReply(encoded)
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if !decoded.Status.OK() {
		t.Fatalf("expected success, got %v", decoded.Status)
	}
	if !bytes.Equal(decoded.Data, reply.Data) {
		t.Fatalf("data mismatch: got %x", decoded.Data)
	}
}

func TestEncodeDecodeReplyError(t *testing.T) {
	reply := Reply{Service: ServiceSetAttributeSingle, Status: Status{General: 0x0C}}
	encoded := EncodeReply(reply)

	decoded, err := DecodeReply(encoded)
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if decoded.Status.OK() {
		t.Fatalf("expected failure status")
	}
	if decoded.Status.General != 0x0C {
		t.Fatalf("got general=0x%02X", decoded.Status.General)
	}
}
