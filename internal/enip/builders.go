package enip

const defaultRRTimeoutTicks uint16 = 10

const enipProtocolVersion uint16 = 1

func rrDataPrefix() []byte {
	order := currentENIPByteOrder()
	prefix := make([]byte, 6)
	order.PutUint32(prefix[0:4], 0) // interface handle, always 0 (CIP)
	order.PutUint16(prefix[4:6], defaultRRTimeoutTicks)
	return prefix
}

// BuildRegisterSession builds a RegisterSession request frame.
func BuildRegisterSession(senderContext [8]byte) []byte {
	order := currentENIPByteOrder()
	data := make([]byte, 4)
	order.PutUint16(data[0:2], enipProtocolVersion)
	order.PutUint16(data[2:4], 0) // options, reserved

	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandRegisterSession,
		SessionID:     0,
		SenderContext: senderContext,
		Data:          data,
	})
}

// BuildUnregisterSession builds an UnregisterSession request frame.
func BuildUnregisterSession(sessionID uint32, senderContext [8]byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandUnregisterSession,
		SessionID:     sessionID,
		SenderContext: senderContext,
	})
}

// BuildNOP builds a heartbeat NOP frame carrying an arbitrary, opaque payload.
// The receiver is required to discard NOP data; it exists purely to keep the
// TCP connection alive and observable in traffic captures.
func BuildNOP(senderContext [8]byte, pattern []byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandNOP,
		SessionID:     0,
		SenderContext: senderContext,
		Data:          pattern,
	})
}

// BuildListServices builds a ListServices probe frame, used by the session
// heartbeat as a lightweight liveness check against a registered session.
func BuildListServices(sessionID uint32, senderContext [8]byte) []byte {
	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandListServices,
		SessionID:     sessionID,
		SenderContext: senderContext,
	})
}

// BuildSendRRData wraps cipData as the UnconnectedData item of an
// unconnected (Class 0/1) SendRRData request.
func BuildSendRRData(sessionID uint32, senderContext [8]byte, cipData []byte) []byte {
	cpf := BuildCPFItems([]CPFItem{
		{TypeID: CPFItemNullAddress},
		{TypeID: CPFItemUnconnectedData, Data: cipData},
	})

	data := append(rrDataPrefix(), cpf...)

	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandSendRRData,
		SessionID:     sessionID,
		SenderContext: senderContext,
		Data:          data,
	})
}

// BuildSendUnitData wraps cipData as a ConnectedData item (prefixed with the
// Class 3 sequence count) addressed to connID, inside a connected
// (Class 3) SendUnitData request.
func BuildSendUnitData(sessionID uint32, senderContext [8]byte, connID uint32, seq uint16, cipData []byte) []byte {
	order := currentENIPByteOrder()

	addr := make([]byte, 4)
	order.PutUint32(addr, connID)

	connData := make([]byte, 2+len(cipData))
	order.PutUint16(connData[0:2], seq)
	copy(connData[2:], cipData)

	cpf := BuildCPFItems([]CPFItem{
		{TypeID: CPFItemConnectedAddress, Data: addr},
		{TypeID: CPFItemConnectedData, Data: connData},
	})

	data := append(rrDataPrefix(), cpf...)

	return EncodeENIP(ENIPEncapsulation{
		Command:       ENIPCommandSendUnitData,
		SessionID:     sessionID,
		SenderContext: senderContext,
		Data:          data,
	})
}
