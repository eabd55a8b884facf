package assembly

// Device configuration model: identity plus named assemblies with members.

import (
	"encoding/binary"
	"fmt"

	cerr "github.com/tturner/cipsession/internal/errors"
)

// Direction values accepted for assemblies and members, after synonym
// normalization (config→configuration, in→input, out→output,
// inout/io→bidirectional).
const (
	DirectionInput         = "input"
	DirectionOutput        = "output"
	DirectionConfiguration = "configuration"
	DirectionBidirectional = "bidirectional"
)

// NormalizeDirection maps the accepted synonyms onto the canonical direction
// values. Returns an empty string for an unsupported direction.
func NormalizeDirection(raw string) string {
	switch raw {
	case "config":
		return DirectionConfiguration
	case "in":
		return DirectionInput
	case "out":
		return DirectionOutput
	case "inout", "io":
		return DirectionBidirectional
	case DirectionInput, DirectionOutput, DirectionConfiguration, DirectionBidirectional:
		return raw
	default:
		return ""
	}
}

// DeviceIdentity describes the target PLC device. All fields are optional.
type DeviceIdentity struct {
	Name         string
	Vendor       string
	ProductCode  string
	Revision     string
	SerialNumber string
}

// Member is one named slice of an assembly's flat data buffer.
type Member struct {
	Name        string
	Datatype    string
	Direction   string
	Offset      int
	Size        int
	HasOffset   bool
	HasSize     bool
	Description string
}

// Assembly is one named assembly object declared in the configuration.
// Size is optional; -1 means undeclared.
type Assembly struct {
	Alias      string
	ClassID    uint16
	InstanceID uint16
	Direction  string
	Size       int
	Members    []Member
}

// HasSize reports whether the assembly declares a total byte size.
func (a Assembly) HasSize() bool { return a.Size >= 0 }

// DeviceConfiguration is the parsed configuration document.
type DeviceConfiguration struct {
	Identity   DeviceIdentity
	Assemblies []Assembly
}

// AttributeSpec describes how a single numeric assembly attribute encodes
// against an integer value. Size < 0 means opaque bytes with no int
// coercion.
type AttributeSpec struct {
	AttributeID uint16
	Size        int
	Signed      bool
}

// Decode interprets a little-endian attribute payload.
func (s AttributeSpec) Decode(payload []byte) (int64, []byte, error) {
	if s.Size < 0 {
		return 0, append([]byte(nil), payload...), nil
	}
	if len(payload) != s.Size {
		return 0, nil, cerr.New(cerr.KindMalformedFrame,
			fmt.Sprintf("attribute 0x%X payload size: expected %d, got %d", s.AttributeID, s.Size, len(payload)))
	}
	var v uint64
	for i := len(payload) - 1; i >= 0; i-- {
		v = v<<8 | uint64(payload[i])
	}
	if s.Signed && s.Size > 0 && s.Size < 8 {
		shift := uint(64 - 8*s.Size)
		return int64(v<<shift) >> shift, append([]byte(nil), payload...), nil
	}
	return int64(v), append([]byte(nil), payload...), nil
}

// Encode produces the little-endian wire payload for value.
func (s AttributeSpec) Encode(value int64) ([]byte, error) {
	if s.Size < 0 {
		return nil, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("attribute 0x%X expects raw bytes, not an integer", s.AttributeID))
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(value))
	return buf[:s.Size], nil
}

// CommonAttributeSpecs names the assembly attributes commonly driven by
// configuration tooling: I/O sizes and production timing.
func CommonAttributeSpecs() map[string]AttributeSpec {
	return map[string]AttributeSpec{
		"input_size":              {AttributeID: 0x03, Size: 2},
		"output_size":             {AttributeID: 0x04, Size: 2},
		"production_inhibit_time": {AttributeID: 0x09, Size: 2},
		"production_trigger":      {AttributeID: 0x0B, Size: 1},
	}
}
