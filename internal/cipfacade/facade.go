package cipfacade

// Typed CIP service helpers over the session orchestrator.

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tturner/cipsession/internal/assembly"
	"github.com/tturner/cipsession/internal/cip"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/session"
)

// Facade exposes the stateless CIP service operations. A non-zero CIP
// status in a result is a returned value, never a Go error.
type Facade struct {
	orch     *session.Orchestrator
	registry *assembly.Registry
}

// New wires the facade over an orchestrator and an assembly registry.
func New(orch *session.Orchestrator, registry *assembly.Registry) *Facade {
	return &Facade{orch: orch, registry: registry}
}

// Registry returns the facade's assembly registry.
func (f *Facade) Registry() *assembly.Registry { return f.registry }

// Orchestrator returns the underlying session orchestrator.
func (f *Facade) Orchestrator() *session.Orchestrator { return f.orch }

// AssemblyReadResult is the surface of one assembly read.
type AssemblyReadResult struct {
	ClassID    uint16
	InstanceID uint16
	Data       []byte
	DataHex    string
	// WordValues is populated only when the requested size is even.
	WordValues []uint16
	Timestamp  time.Time
	Status     cip.Status
}

// GetAttributeSingle issues CIP Get_Attribute_Single (0x0E) on the path.
func (f *Facade) GetAttributeSingle(ctx context.Context, sessionID string, path cip.CIPPath) (cip.Status, []byte, error) {
	return f.orch.Exchange(ctx, sessionID, cip.ServiceGetAttributeSingle, path, nil, session.TransportAuto)
}

// SetAttributeSingle issues CIP Set_Attribute_Single (0x10) on the path.
func (f *Facade) SetAttributeSingle(ctx context.Context, sessionID string, path cip.CIPPath, value []byte) (cip.Status, error) {
	status, _, err := f.orch.Exchange(ctx, sessionID, cip.ServiceSetAttributeSingle, path, value, session.TransportAuto)
	return status, err
}

// ReadAssembly reads the Data attribute (3) of an assembly instance. When
// totalSize is even the payload is additionally exposed as little-endian
// 16-bit words.
func (f *Facade) ReadAssembly(ctx context.Context, sessionID string, classID, instanceID uint16, totalSize int) (AssemblyReadResult, error) {
	path := cip.ClassInstanceAttribute(classID, instanceID, assembly.DataAttributeID)
	status, data, err := f.orch.Exchange(ctx, sessionID, cip.ServiceGetAttributeSingle, path, nil, session.TransportAuto)
	if err != nil {
		return AssemblyReadResult{}, err
	}

	result := AssemblyReadResult{
		ClassID:    classID,
		InstanceID: instanceID,
		Data:       data,
		DataHex:    hex.EncodeToString(data),
		Timestamp:  time.Now(),
		Status:     status,
	}
	if totalSize > 0 && totalSize%2 == 0 {
		words := make([]uint16, 0, len(data)/2)
		for i := 0; i+1 < len(data); i += 2 {
			words = append(words, uint16(data[i])|uint16(data[i+1])<<8)
		}
		result.WordValues = words
	}
	return result, nil
}

// WriteAssembly writes the Data attribute (3) of the assembly named by
// identifier (alias or literal "class/instance"). When the assembly
// declares a size, the payload is truncated or zero-padded to it; otherwise
// the payload is sent verbatim.
func (f *Facade) WriteAssembly(ctx context.Context, sessionID, identifier, payloadHex string) (cip.Status, error) {
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return cip.Status{}, cerr.Wrap(cerr.KindConfigInvalid, "payload is not valid hex", err)
	}

	asm, err := f.registry.Resolve(identifier)
	if err != nil {
		return cip.Status{}, err
	}
	if asm.HasSize() {
		payload = fitToSize(payload, asm.Size)
	}

	path := cip.ClassInstanceAttribute(asm.ClassID, asm.InstanceID, assembly.DataAttributeID)
	status, _, err := f.orch.Exchange(ctx, sessionID, cip.ServiceSetAttributeSingle, path, payload, session.TransportAuto)
	return status, err
}

// AssemblyRuntime is an assembly's current payload plus its decoded members.
type AssemblyRuntime struct {
	Alias   string
	Read    AssemblyReadResult
	Members []MemberValue
}

// GetAssemblyRuntime reads the aliased assembly and decodes its members
// against the registered layout.
func (f *Facade) GetAssemblyRuntime(ctx context.Context, sessionID, alias string) (AssemblyRuntime, error) {
	asm, err := f.registry.Lookup(alias)
	if err != nil {
		return AssemblyRuntime{}, err
	}

	size := asm.Size
	if !asm.HasSize() {
		size = layoutExtent(asm)
	}
	if size <= 0 {
		return AssemblyRuntime{}, cerr.New(cerr.KindConfigInvalid,
			fmt.Sprintf("assembly %q declares neither a size nor member layout", alias))
	}

	read, err := f.ReadAssembly(ctx, sessionID, asm.ClassID, asm.InstanceID, size)
	if err != nil {
		return AssemblyRuntime{}, err
	}

	return AssemblyRuntime{
		Alias:   alias,
		Read:    read,
		Members: DecodeMembers(asm, read.Data),
	}, nil
}

// Send is the low-level escape hatch beneath the typed helpers, for service
// codes the facade does not wrap.
func (f *Facade) Send(ctx context.Context, sessionID string, service uint8, path cip.CIPPath, payload []byte, transport session.Transport) (cip.Status, []byte, error) {
	return f.orch.Exchange(ctx, sessionID, service, path, payload, transport)
}

// fitToSize truncates or zero-pads payload to exactly size bytes.
func fitToSize(payload []byte, size int) []byte {
	if len(payload) == size {
		return payload
	}
	out := make([]byte, size)
	copy(out, payload)
	return out
}

// layoutExtent derives a usable buffer size from member placement when the
// assembly declares no total size.
func layoutExtent(asm assembly.Assembly) int {
	extent := 0
	for _, m := range asm.Members {
		if m.HasOffset && m.HasSize && m.Offset+m.Size > extent {
			extent = m.Offset + m.Size
		}
	}
	return extent
}
