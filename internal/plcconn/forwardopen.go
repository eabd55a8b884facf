package plcconn

import (
	"encoding/binary"
	"fmt"

	"github.com/tturner/cipsession/internal/cip"
)

// ForwardOpenParams parametrizes the Connection Manager Forward Open
// request: RPI, priority, connection size, and transport class/trigger
// defaults appropriate for Class 3 explicit messaging.
type ForwardOpenParams struct {
	Class         uint16
	Instance      uint16
	OToTRPIMicros uint32
	TToORPIMicros uint32
	OToTSizeBytes uint16
	TToOSizeBytes uint16
	Priority      uint8 // 0=low, 1=scheduled, 2=high, 3=urgent
}

// DefaultForwardOpenParams returns the Class 3 explicit-messaging defaults
// used for explicit messaging: scheduled priority, 8-byte fixed connection sizes, and a
// 2-second RPI in both directions.
func DefaultForwardOpenParams(class, instance uint16) ForwardOpenParams {
	return ForwardOpenParams{
		Class:         class,
		Instance:      instance,
		OToTRPIMicros: 2_000_000,
		TToORPIMicros: 2_000_000,
		OToTSizeBytes: 8,
		TToOSizeBytes: 8,
		Priority:      1,
	}
}

func connectionSizeBits(size uint16) uint32 {
	switch {
	case size <= 8:
		return 0
	case size <= 16:
		return 1
	case size <= 32:
		return 2
	default:
		return 3
	}
}

// encodeForwardOpenData builds the Forward Open request data that follows
// the service/path header in the CIP message, addressed to the Connection
// Manager (class 0x06, instance 1) by the caller.
func encodeForwardOpenData(serial uint16, params ForwardOpenParams) []byte {
	order := binary.LittleEndian
	buf := make([]byte, 0, 32)

	buf = append(buf, 0x00)                         // timeout multiplier
	buf = appendUint24(buf, 0)                       // reserved (3 bytes, connection timeout ticks precede it on the wire for some stacks; kept zero)
	buf = appendUint32(order, buf, 0)                // O->T network connection ID (assigned by target, zero on request)
	buf = appendUint32(order, buf, 0)                // T->O network connection ID (assigned by target, zero on request)
	buf = appendUint16(order, buf, serial)           // connection serial number
	buf = appendUint16(order, buf, 0x1337)           // originator vendor ID
	buf = appendUint32(order, buf, 0xDEADBEEF)       // originator serial number
	buf = append(buf, params.Priority&0x0F)          // connection timeout multiplier/priority
	buf = appendUint24(buf, 0)                       // reserved
	buf = appendUint32(order, buf, params.OToTRPIMicros)
	otoT := uint32(params.OToTSizeBytes&0x1FF) | connectionSizeBits(params.OToTSizeBytes)<<9 | 1<<13 // transport class 3 server
	buf = appendUint32(order, buf, otoT)
	buf = appendUint32(order, buf, params.TToORPIMicros)
	tToO := uint32(params.TToOSizeBytes&0x1FF) | connectionSizeBits(params.TToOSizeBytes)<<9 | 1<<13
	buf = appendUint32(order, buf, tToO)
	buf = append(buf, 0xA3) // transport class/trigger: class 3, application triggered

	connPath := cip.EncodeEPATH(cip.ClassInstance(params.Class, params.Instance))
	pathWords := len(connPath) / 2
	if len(connPath)%2 != 0 {
		pathWords++
	}
	buf = append(buf, uint8(pathWords))
	buf = append(buf, connPath...)
	if len(connPath)%2 != 0 {
		buf = append(buf, 0x00)
	}
	return buf
}

func appendUint16(order binary.ByteOrder, buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	order.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(order binary.ByteOrder, buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return append(buf, b...)
}

func appendUint24(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

// forwardOpenReply is the parsed body of a Forward Open success reply.
type forwardOpenReply struct {
	OToTConnID uint32
	TToOConnID uint32
	Serial     uint16
}

func decodeForwardOpenReply(data []byte) (forwardOpenReply, error) {
	if len(data) < 8 {
		return forwardOpenReply{}, fmt.Errorf("plcconn: forward open reply too short: %d bytes", len(data))
	}
	order := binary.LittleEndian
	reply := forwardOpenReply{
		OToTConnID: order.Uint32(data[0:4]),
		TToOConnID: order.Uint32(data[4:8]),
	}
	if len(data) >= 10 {
		reply.Serial = order.Uint16(data[8:10])
	}
	return reply, nil
}

// encodeForwardCloseData builds the Forward Close request data, addressed
// by connection serial number rather than the runtime connection ID (per
// ODVA convention: the target looks the connection up by serial + vendor +
// originator serial, not by network connection ID).
func encodeForwardCloseData(serial uint16) []byte {
	order := binary.LittleEndian
	buf := make([]byte, 0, 16)
	buf = append(buf, 0x00)
	buf = appendUint24(buf, 0)
	buf = appendUint16(order, buf, serial)
	buf = appendUint16(order, buf, 0x1337)
	buf = appendUint32(order, buf, 0xDEADBEEF)

	connPath := cip.EncodeEPATH(cip.ClassInstance(0, 0))
	pathWords := len(connPath) / 2
	buf = append(buf, uint8(pathWords))
	buf = append(buf, connPath...)
	return buf
}
