package cip

import "fmt"

// CIP service codes used by this module's facade and connection layers.
const (
	ServiceGetAttributeSingle uint8 = 0x0E
	ServiceSetAttributeSingle uint8 = 0x10
	ServiceGetAttributeList   uint8 = 0x03
	ServiceSetAttributeList   uint8 = 0x04
	ServiceForwardOpen        uint8 = 0x54
	ServiceForwardClose       uint8 = 0x4E
	ServiceUnconnectedSend    uint8 = 0x52
)

const replyServiceFlag uint8 = 0x80

// Status is the general/extended CIP status pair carried in every reply.
// General == 0 is success; a non-zero general status is a returned value,
// never a Go error.
type Status struct {
	General  uint8
	Extended []uint16
}

// OK reports whether the status represents CIP success (general == 0).
func (s Status) OK() bool { return s.General == 0x00 }

func (s Status) String() string {
	if s.OK() {
		return "success"
	}
	if len(s.Extended) > 0 {
		return fmt.Sprintf("general=0x%02X extended=%v", s.General, s.Extended)
	}
	return fmt.Sprintf("general=0x%02X", s.General)
}

// Request is an unencoded CIP message request: service, EPATH, and the
// service-specific request data that follows it.
type Request struct {
	Service uint8
	Path    CIPPath
	Data    []byte
}

// Reply is a decoded CIP message reply.
type Reply struct {
	Service uint8 // service code without the 0x80 reply bit
	Status  Status
	Data    []byte
}

// EncodeRequest serializes a CIP message request: service, path size (in
// words, when Options.IncludePathSize), EPATH, then request data.
func EncodeRequest(req Request) []byte {
	opts := CurrentOptions()
	epath := EncodeEPATH(req.Path)

	buf := make([]byte, 0, 2+len(epath)+len(req.Data))
	buf = append(buf, req.Service)
	if opts.IncludePathSize {
		buf = append(buf, uint8(len(epath)/2))
	}
	buf = append(buf, epath...)
	buf = append(buf, req.Data...)
	return buf
}

// DecodeRequest parses a CIP message request previously built by
// EncodeRequest. When Options.IncludePathSize is false the EPATH is assumed
// to run to the end of the buffer (legacy peers that omit the path-size
// byte never mix trailing request data in that mode).
func DecodeRequest(data []byte) (Request, error) {
	opts := CurrentOptions()
	if len(data) < 1 {
		return Request{}, fmt.Errorf("cip: request too short")
	}
	service := data[0]
	offset := 1

	var epathLen int
	if opts.IncludePathSize {
		if len(data) < offset+1 {
			return Request{}, fmt.Errorf("cip: request missing path size byte")
		}
		pathWords := int(data[offset])
		offset++
		epathLen = pathWords * 2
		if len(data) < offset+epathLen {
			return Request{}, fmt.Errorf("cip: request path size %d words exceeds remaining buffer", pathWords)
		}
	} else {
		epathLen = len(data) - offset
	}

	epath := data[offset : offset+epathLen]
	path, err := ParseEPATH(epath)
	if err != nil {
		return Request{}, err
	}
	offset += epathLen

	return Request{Service: service, Path: path, Data: append([]byte(nil), data[offset:]...)}, nil
}

// EncodeReply serializes a CIP message reply: service|0x80, reserved byte,
// general status, extended-status word count, extended status words, then
// reply data.
func EncodeReply(reply Reply) []byte {
	order := currentByteOrder()
	buf := make([]byte, 0, 4+2*len(reply.Status.Extended)+len(reply.Data))
	buf = append(buf, reply.Service|replyServiceFlag, 0x00, reply.Status.General, uint8(len(reply.Status.Extended)))
	for _, ext := range reply.Status.Extended {
		word := make([]byte, 2)
		order.PutUint16(word, ext)
		buf = append(buf, word...)
	}
	buf = append(buf, reply.Data...)
	return buf
}

// DecodeReply parses a CIP message reply.
func DecodeReply(data []byte) (Reply, error) {
	opts := CurrentOptions()
	if opts.IncludeRespReserved {
		if len(data) < 4 {
			return Reply{}, fmt.Errorf("cip: reply too short")
		}
		service := data[0] &^ replyServiceFlag
		general := data[2]
		extCount := int(data[3])
		offset := 4
		order := currentByteOrder()
		ext := make([]uint16, 0, extCount)
		for i := 0; i < extCount; i++ {
			if len(data) < offset+2 {
				return Reply{}, fmt.Errorf("cip: reply extended status truncated")
			}
			ext = append(ext, order.Uint16(data[offset:offset+2]))
			offset += 2
		}
		return Reply{
			Service: service,
			Status:  Status{General: general, Extended: ext},
			Data:    append([]byte(nil), data[offset:]...),
		}, nil
	}

	if len(data) < 2 {
		return Reply{}, fmt.Errorf("cip: reply too short")
	}
	return Reply{
		Service: data[0] &^ replyServiceFlag,
		Status:  Status{General: data[1]},
		Data:    append([]byte(nil), data[2:]...),
	}, nil
}
