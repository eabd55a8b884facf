package cip

import "fmt"

// EPATH logical segment type bytes. The low bit distinguishes the 8-bit
// form (value fits a single byte) from the 16-bit form (header | 0x01,
// followed by a pad byte, followed by the little-endian value).
const (
	epathSegClass     = 0x20
	epathSegInstance  = 0x24
	epathSegAttribute = 0x30
	epathSegMember    = 0x28
	epathSegSymbolic  = 0x91
)

// SegmentKind identifies the EPATH segment variants.
type SegmentKind uint8

const (
	SegClass SegmentKind = iota
	SegInstance
	SegAttribute
	SegMember
	SegSymbolic
)

// Segment is one EPATH path segment. Numeric segments carry Value; a
// Symbolic segment carries Name instead (split on '.' for multi-component
// tags) and Value is ignored.
type Segment struct {
	Kind  SegmentKind
	Value uint16
	Name  string
}

func ClassSeg(v uint16) Segment     { return Segment{Kind: SegClass, Value: v} }
func InstanceSeg(v uint16) Segment  { return Segment{Kind: SegInstance, Value: v} }
func AttributeSeg(v uint16) Segment { return Segment{Kind: SegAttribute, Value: v} }
func MemberSeg(v uint16) Segment    { return Segment{Kind: SegMember, Value: v} }
func SymbolicSeg(name string) Segment {
	return Segment{Kind: SegSymbolic, Name: name}
}

// CIPPath is an ordered sequence of EPATH segments. A path is valid if it
// yields at least one logical segment on encode.
type CIPPath struct {
	Segments []Segment
}

// NewPath builds a path from an explicit segment list.
func NewPath(segs ...Segment) CIPPath {
	return CIPPath{Segments: segs}
}

// ClassInstanceAttribute builds the common class/instance/attribute path
// used by Get/Set_Attribute_Single and assembly Data (attribute 3) access.
func ClassInstanceAttribute(class, instance, attribute uint16) CIPPath {
	return NewPath(ClassSeg(class), InstanceSeg(instance), AttributeSeg(attribute))
}

// ClassInstance builds a bare class/instance path, used e.g. as the
// Connection Manager target path inside Forward Open/Close requests.
func ClassInstance(class, instance uint16) CIPPath {
	return NewPath(ClassSeg(class), InstanceSeg(instance))
}

// Class returns the first Class segment's value, if present.
func (p CIPPath) Class() (uint16, bool) { return p.find(SegClass) }

// Instance returns the first Instance segment's value, if present.
func (p CIPPath) Instance() (uint16, bool) { return p.find(SegInstance) }

// Attribute returns the first Attribute segment's value, if present.
func (p CIPPath) Attribute() (uint16, bool) { return p.find(SegAttribute) }

// Member returns the first Member segment's value, if present.
func (p CIPPath) Member() (uint16, bool) { return p.find(SegMember) }

// Name returns the first Symbolic segment's tag name, if present.
func (p CIPPath) Name() (string, bool) {
	for _, seg := range p.Segments {
		if seg.Kind == SegSymbolic {
			return seg.Name, true
		}
	}
	return "", false
}

func (p CIPPath) find(kind SegmentKind) (uint16, bool) {
	for _, seg := range p.Segments {
		if seg.Kind == kind {
			return seg.Value, true
		}
	}
	return 0, false
}

func appendLogicalSegment(epath []byte, header byte, value uint16) []byte {
	order := currentByteOrder()
	if value <= 0xFF {
		return append(epath, header, byte(value))
	}
	epath = append(epath, header|0x01, 0x00) // 16-bit form carries a pad byte before the value
	buf := make([]byte, 2)
	order.PutUint16(buf, value)
	return append(epath, buf...)
}

// EncodeEPATH encodes a CIP path into EPATH bytes, emitting each segment in
// the order given. Symbolic segments are encoded using ANSI Extended
// Symbolic segments (one 0x91 run per dot-separated tag component).
func EncodeEPATH(path CIPPath) []byte {
	var epath []byte
	for _, seg := range path.Segments {
		switch seg.Kind {
		case SegClass:
			epath = appendLogicalSegment(epath, epathSegClass, seg.Value)
		case SegInstance:
			epath = appendLogicalSegment(epath, epathSegInstance, seg.Value)
		case SegAttribute:
			epath = appendLogicalSegment(epath, epathSegAttribute, seg.Value)
		case SegMember:
			epath = appendLogicalSegment(epath, epathSegMember, seg.Value)
		case SegSymbolic:
			epath = append(epath, BuildSymbolicEPATH(seg.Name)...)
		}
	}
	return epath
}

// ParseEPATH decodes EPATH bytes into an ordered CIPPath. When the first
// segment byte is 0x91 the whole buffer is decoded as ANSI Extended Symbolic
// segments; otherwise it is decoded as numeric logical segments.
func ParseEPATH(data []byte) (CIPPath, error) {
	if len(data) > 0 && data[0] == epathSegSymbolic {
		name, err := DecodeSymbolicEPATH(data)
		if err != nil {
			return CIPPath{}, err
		}
		return NewPath(SymbolicSeg(name)), nil
	}

	order := currentByteOrder()
	var path CIPPath
	offset := 0
	for offset < len(data) {
		seg := data[offset]
		switch seg {
		case epathSegClass:
			if len(data) < offset+2 {
				return path, fmt.Errorf("cip: incomplete class segment")
			}
			path.Segments = append(path.Segments, ClassSeg(uint16(data[offset+1])))
			offset += 2
		case epathSegClass | 0x01:
			if len(data) < offset+4 {
				return path, fmt.Errorf("cip: incomplete 16-bit class segment")
			}
			path.Segments = append(path.Segments, ClassSeg(order.Uint16(data[offset+2:offset+4])))
			offset += 4
		case epathSegInstance:
			if len(data) < offset+2 {
				return path, fmt.Errorf("cip: incomplete instance segment")
			}
			path.Segments = append(path.Segments, InstanceSeg(uint16(data[offset+1])))
			offset += 2
		case epathSegInstance | 0x01:
			if len(data) < offset+4 {
				return path, fmt.Errorf("cip: incomplete 16-bit instance segment")
			}
			path.Segments = append(path.Segments, InstanceSeg(order.Uint16(data[offset+2:offset+4])))
			offset += 4
		case epathSegAttribute:
			if len(data) < offset+2 {
				return path, fmt.Errorf("cip: incomplete attribute segment")
			}
			path.Segments = append(path.Segments, AttributeSeg(uint16(data[offset+1])))
			offset += 2
		case epathSegAttribute | 0x01:
			if len(data) < offset+4 {
				return path, fmt.Errorf("cip: incomplete 16-bit attribute segment")
			}
			path.Segments = append(path.Segments, AttributeSeg(order.Uint16(data[offset+2:offset+4])))
			offset += 4
		case epathSegMember:
			if len(data) < offset+2 {
				return path, fmt.Errorf("cip: incomplete member segment")
			}
			path.Segments = append(path.Segments, MemberSeg(uint16(data[offset+1])))
			offset += 2
		case epathSegMember | 0x01:
			if len(data) < offset+4 {
				return path, fmt.Errorf("cip: incomplete 16-bit member segment")
			}
			path.Segments = append(path.Segments, MemberSeg(order.Uint16(data[offset+2:offset+4])))
			offset += 4
		default:
			return path, fmt.Errorf("cip: invalid or unsupported EPATH segment: 0x%02X", seg)
		}
	}
	return path, nil
}

// DecodeEPATH is an alias for ParseEPATH kept for symmetry with EncodeEPATH.
func DecodeEPATH(data []byte) (CIPPath, error) {
	return ParseEPATH(data)
}
