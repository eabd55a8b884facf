package enip

import "fmt"

// Common Packet Format item type IDs used inside SendRRData/SendUnitData bodies.
const (
	CPFItemNullAddress      uint16 = 0x0000
	CPFItemConnectedAddress uint16 = 0x00A1
	CPFItemConnectedData    uint16 = 0x00B1
	CPFItemUnconnectedData  uint16 = 0x00B2
)

// CPFItem is one Common Packet Format item: a type tag plus its raw data.
// Unknown type IDs are preserved verbatim rather than rejected, per the wire
// codec's decode contract.
type CPFItem struct {
	TypeID uint16
	Data   []byte
}

// ParseCPFItems parses a `item_count + items` Common Packet Format body.
func ParseCPFItems(payload []byte) ([]CPFItem, error) {
	order := currentENIPByteOrder()
	if len(payload) < 2 {
		return nil, fmt.Errorf("enip: CPF body too short for item count")
	}
	count := order.Uint16(payload[0:2])
	offset := 2

	items := make([]CPFItem, 0, count)
	for i := 0; i < int(count); i++ {
		if len(payload) < offset+4 {
			return nil, fmt.Errorf("enip: CPF item %d header truncated", i)
		}
		typeID := order.Uint16(payload[offset : offset+2])
		length := order.Uint16(payload[offset+2 : offset+4])
		offset += 4
		if len(payload) < offset+int(length) {
			return nil, fmt.Errorf("enip: CPF item %d data truncated (declared %d bytes)", i, length)
		}
		items = append(items, CPFItem{TypeID: typeID, Data: append([]byte(nil), payload[offset:offset+int(length)]...)})
		offset += int(length)
	}
	return items, nil
}

// BuildCPFItems serializes a list of CPF items into an `item_count + items` body.
func BuildCPFItems(items []CPFItem) []byte {
	order := currentENIPByteOrder()
	buf := make([]byte, 2)
	order.PutUint16(buf[0:2], uint16(len(items)))

	for _, item := range items {
		header := make([]byte, 4)
		order.PutUint16(header[0:2], item.TypeID)
		order.PutUint16(header[2:4], uint16(len(item.Data)))
		buf = append(buf, header...)
		buf = append(buf, item.Data...)
	}
	return buf
}

func findCPFItem(items []CPFItem, typeID uint16) ([]byte, bool) {
	for _, item := range items {
		if item.TypeID == typeID {
			return item.Data, true
		}
	}
	return nil, false
}
