package enip

import "fmt"

// ParseSendRRDataRequest extracts the unconnected CIP payload from a
// SendRRData body. In strict (CPF) mode it requires a well-formed
// NullAddress + UnconnectedData item pair; in legacy mode (UseCPF == false)
// it falls back to treating everything after the interface-handle/timeout
// prefix as the raw CIP payload, matching older peers that never adopted CPF.
func ParseSendRRDataRequest(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("enip: SendRRData body too short: %d bytes", len(data))
	}
	rest := data[6:]

	if !currentUseCPF() {
		return rest, nil
	}

	items, err := ParseCPFItems(rest)
	if err != nil {
		return nil, err
	}
	payload, ok := findCPFItem(items, CPFItemUnconnectedData)
	if !ok {
		return nil, fmt.Errorf("enip: SendRRData missing UnconnectedData item")
	}
	return payload, nil
}

// ParseSendRRDataResponse extracts the unconnected CIP reply payload from a
// SendRRData response body. Real devices always reply using CPF regardless
// of the caller's legacy-mode setting, so this always parses strictly.
func ParseSendRRDataResponse(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("enip: SendRRData response body too short: %d bytes", len(data))
	}
	items, err := ParseCPFItems(data[6:])
	if err != nil {
		return nil, err
	}
	payload, ok := findCPFItem(items, CPFItemUnconnectedData)
	if !ok {
		return nil, fmt.Errorf("enip: SendRRData response missing UnconnectedData item")
	}
	return payload, nil
}

// ParseSendUnitDataRequest extracts the connection ID and connected CIP
// payload (including its leading 2-byte sequence count) from a SendUnitData
// body. Strict mode requires ConnectedAddress + ConnectedData items; legacy
// mode treats the first 4 bytes as a bare connection ID followed directly by
// the CIP payload.
func ParseSendUnitDataRequest(data []byte) (uint32, []byte, error) {
	order := currentENIPByteOrder()

	if !currentUseCPF() {
		if len(data) < 4 {
			return 0, nil, fmt.Errorf("enip: legacy SendUnitData body too short: %d bytes", len(data))
		}
		return order.Uint32(data[:4]), data[4:], nil
	}

	if len(data) < 6 {
		return 0, nil, fmt.Errorf("enip: SendUnitData body too short: %d bytes", len(data))
	}
	items, err := ParseCPFItems(data[6:])
	if err != nil {
		return 0, nil, err
	}

	addr, ok := findCPFItem(items, CPFItemConnectedAddress)
	if !ok || len(addr) < 4 {
		return 0, nil, fmt.Errorf("enip: SendUnitData missing ConnectedAddress item")
	}
	payload, ok := findCPFItem(items, CPFItemConnectedData)
	if !ok {
		return 0, nil, fmt.Errorf("enip: SendUnitData missing ConnectedData item")
	}
	return order.Uint32(addr[:4]), payload, nil
}

// ParseSendUnitDataResponse parses a SendUnitData response body, always in
// strict CPF mode, returning the connection ID and the connected CIP reply
// payload (including its leading sequence count).
func ParseSendUnitDataResponse(data []byte) (uint32, []byte, error) {
	order := currentENIPByteOrder()
	if len(data) < 6 {
		return 0, nil, fmt.Errorf("enip: SendUnitData response body too short: %d bytes", len(data))
	}
	items, err := ParseCPFItems(data[6:])
	if err != nil {
		return 0, nil, err
	}
	addr, ok := findCPFItem(items, CPFItemConnectedAddress)
	if !ok || len(addr) < 4 {
		return 0, nil, fmt.Errorf("enip: SendUnitData response missing ConnectedAddress item")
	}
	payload, ok := findCPFItem(items, CPFItemConnectedData)
	if !ok {
		return 0, nil, fmt.Errorf("enip: SendUnitData response missing ConnectedData item")
	}
	return order.Uint32(addr[:4]), payload, nil
}
