package cipfacade

// Layout-aware decoding of assembly buffers into member values, and the
// read-modify-write buffer policy for member-targeted writes.

import (
	"encoding/hex"

	"github.com/tturner/cipsession/internal/assembly"
	cerr "github.com/tturner/cipsession/internal/errors"
)

// MemberValue is one decoded member slice. A member that falls past the end
// of the buffer reports an empty RawHex and no integer value rather than an
// error. IntValue is populated only for sizes 1, 2, and 4 (little-endian,
// unsigned).
type MemberValue struct {
	Name     string
	Offset   int
	Size     int
	RawHex   string
	IntValue *uint64
}

// DecodeMembers slices buffer per the assembly's member layout. Members
// without a declared offset or size are skipped.
func DecodeMembers(asm assembly.Assembly, buffer []byte) []MemberValue {
	var values []MemberValue
	for _, m := range asm.Members {
		if !m.HasOffset || !m.HasSize {
			continue
		}
		mv := MemberValue{Name: m.Name, Offset: m.Offset, Size: m.Size}
		if m.Offset+m.Size > len(buffer) {
			values = append(values, mv)
			continue
		}
		slice := buffer[m.Offset : m.Offset+m.Size]
		mv.RawHex = hex.EncodeToString(slice)
		switch m.Size {
		case 1, 2, 4:
			var v uint64
			for i := len(slice) - 1; i >= 0; i-- {
				v = v<<8 | uint64(slice[i])
			}
			mv.IntValue = &v
		}
		values = append(values, mv)
	}
	return values
}

// ApplyMemberValue writes value into the member's slice of current,
// growing a zero-filled working buffer to max(len(current), offset+size)
// first, and returns the whole buffer to send.
func ApplyMemberValue(asm assembly.Assembly, current []byte, memberName string, value []byte) ([]byte, error) {
	for _, m := range asm.Members {
		if m.Name != memberName {
			continue
		}
		if !m.HasOffset || !m.HasSize {
			return nil, cerr.New(cerr.KindConfigInvalid, "member "+memberName+" has no declared offset/size")
		}
		required := m.Offset + m.Size
		size := len(current)
		if required > size {
			size = required
		}
		buf := make([]byte, size)
		copy(buf, current)
		copy(buf[m.Offset:required], fitToSize(value, m.Size))
		return buf, nil
	}
	return nil, cerr.New(cerr.KindUnknownAlias, "unknown member "+memberName)
}
