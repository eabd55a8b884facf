package enip

import "fmt"

// ENIP encapsulation command codes.
const (
	ENIPCommandNOP               uint16 = 0x0000
	ENIPCommandListServices      uint16 = 0x0004
	ENIPCommandListIdentity      uint16 = 0x0063
	ENIPCommandRegisterSession   uint16 = 0x0065
	ENIPCommandUnregisterSession uint16 = 0x0066
	ENIPCommandSendRRData        uint16 = 0x006F
	ENIPCommandSendUnitData      uint16 = 0x0070
)

// ENIP encapsulation status codes.
const (
	ENIPStatusSuccess          uint32 = 0x00000000
	ENIPStatusInvalidCommand   uint32 = 0x00000001
	ENIPStatusInsufficientMem  uint32 = 0x00000002
	ENIPStatusIncorrectData    uint32 = 0x00000003
	ENIPStatusInvalidSession   uint32 = 0x00000064
	ENIPStatusInvalidLength    uint32 = 0x00000065
	ENIPStatusUnsupportedProto uint32 = 0x00000069
)

const encapHeaderLen = 24

// ENIPEncapsulation represents one ENIP encapsulation frame.
type ENIPEncapsulation struct {
	Command       uint16
	Length        uint16
	SessionID     uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
	Data          []byte
}

// EncodeENIP serializes an encapsulation frame. Length is recomputed from
// len(Data) rather than trusted from the struct.
func EncodeENIP(encap ENIPEncapsulation) []byte {
	order := currentENIPByteOrder()
	buf := make([]byte, encapHeaderLen+len(encap.Data))

	order.PutUint16(buf[0:2], encap.Command)
	order.PutUint16(buf[2:4], uint16(len(encap.Data)))
	order.PutUint32(buf[4:8], encap.SessionID)
	order.PutUint32(buf[8:12], encap.Status)
	copy(buf[12:20], encap.SenderContext[:])
	order.PutUint32(buf[20:24], encap.Options)
	copy(buf[24:], encap.Data)

	return buf
}

// DecodeENIP parses an encapsulation frame. It does not require the buffer
// to contain exactly one frame: trailing bytes beyond the declared length
// are ignored so callers can decode directly off a length-prefixed read.
func DecodeENIP(packet []byte) (ENIPEncapsulation, error) {
	if len(packet) < encapHeaderLen {
		return ENIPEncapsulation{}, fmt.Errorf("enip: short header: %d bytes", len(packet))
	}

	order := currentENIPByteOrder()
	var encap ENIPEncapsulation
	encap.Command = order.Uint16(packet[0:2])
	encap.Length = order.Uint16(packet[2:4])
	encap.SessionID = order.Uint32(packet[4:8])
	encap.Status = order.Uint32(packet[8:12])
	copy(encap.SenderContext[:], packet[12:20])
	encap.Options = order.Uint32(packet[20:24])

	end := encapHeaderLen + int(encap.Length)
	if len(packet) < end {
		return ENIPEncapsulation{}, fmt.Errorf("enip: declared length %d exceeds remaining buffer (%d bytes)", encap.Length, len(packet)-encapHeaderLen)
	}
	encap.Data = append([]byte(nil), packet[encapHeaderLen:end]...)

	return encap, nil
}
