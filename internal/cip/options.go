package cip

import (
	"encoding/binary"
	"sync"
)

// Options controls CIP message and EPATH framing.
type Options struct {
	ByteOrder           binary.ByteOrder
	IncludePathSize     bool
	IncludeRespReserved bool
}

var (
	optionsMu      sync.RWMutex
	currentOptions = Options{
		ByteOrder:           binary.LittleEndian,
		IncludePathSize:     true,
		IncludeRespReserved: true,
	}
)

// SetOptions replaces the package-wide default CIP framing options.
func SetOptions(opts Options) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	if opts.ByteOrder == nil {
		opts.ByteOrder = binary.LittleEndian
	}
	currentOptions = opts
}

// CurrentOptions returns a copy of the package-wide default CIP framing options.
func CurrentOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOptions
}

func currentByteOrder() binary.ByteOrder {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	if currentOptions.ByteOrder == nil {
		return binary.LittleEndian
	}
	return currentOptions.ByteOrder
}
