package enip

import (
	"encoding/binary"
	"sync"
)

// Options controls how the encapsulation and CPF layers are encoded/decoded.
// ByteOrder defaults to little-endian per the EtherNet/IP wire format; UseCPF
// toggles strict Common Packet Format parsing for SendRRData/SendUnitData
// bodies versus a legacy raw-payload fallback used only by older peers this
// package's request-side parsers still tolerate.
type Options struct {
	ByteOrder binary.ByteOrder
	UseCPF    bool
}

var (
	optionsMu     sync.RWMutex
	currentOption = Options{ByteOrder: binary.LittleEndian, UseCPF: true}
)

// SetOptions replaces the package-wide default options.
func SetOptions(o Options) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	if o.ByteOrder == nil {
		o.ByteOrder = binary.LittleEndian
	}
	currentOption = o
}

// CurrentOptions returns a copy of the package-wide default options.
func CurrentOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOption
}

func currentENIPByteOrder() binary.ByteOrder {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOption.ByteOrder
}

func currentUseCPF() bool {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOption.UseCPF
}
