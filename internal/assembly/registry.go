package assembly

// Thread-safe in-memory store for the loaded device configuration, with
// alias and literal "class/instance" resolution.

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
)

// DataAttributeID is the Assembly object's Data attribute, targeted by
// convention for assembly reads and writes.
const DataAttributeID uint16 = 3

// Registry holds the parsed device configuration and resolves aliases to
// CIP paths. Aliases are case-sensitive and globally unique.
type Registry struct {
	mu      sync.RWMutex
	cfg     *DeviceConfiguration
	rawXML  []byte
	byAlias map[string]*Assembly
	logger  *logging.Logger
	specs   map[string]AttributeSpec
}

// NewRegistry creates an empty registry. A nil logger disables overlap
// warnings.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		byAlias: make(map[string]*Assembly),
		logger:  logger,
		specs:   CommonAttributeSpecs(),
	}
}

// Load parses and installs a device configuration document, replacing any
// previous one. A rejected document leaves the previous configuration
// untouched.
func (r *Registry) Load(xmlPayload []byte) error {
	warn := func(format string, v ...interface{}) {
		if r.logger != nil {
			r.logger.Info(format, v...)
		}
	}
	cfg, err := ParseConfiguration(xmlPayload, warn)
	if err != nil {
		return err
	}

	byAlias := make(map[string]*Assembly, len(cfg.Assemblies))
	for i := range cfg.Assemblies {
		byAlias[cfg.Assemblies[i].Alias] = &cfg.Assemblies[i]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.rawXML = append([]byte(nil), xmlPayload...)
	r.byAlias = byAlias
	return nil
}

// Loaded reports whether a configuration document has been installed.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg != nil
}

// RawXML returns the installed configuration document verbatim.
func (r *Registry) RawXML() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]byte(nil), r.rawXML...)
}

// Identity returns the parsed device identity.
func (r *Registry) Identity() DeviceIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cfg == nil {
		return DeviceIdentity{}
	}
	return r.cfg.Identity
}

// Assemblies returns the declared assemblies in document order.
func (r *Registry) Assemblies() []Assembly {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cfg == nil {
		return nil
	}
	return append([]Assembly(nil), r.cfg.Assemblies...)
}

// Lookup returns the assembly registered under alias (case-sensitive).
func (r *Registry) Lookup(alias string) (Assembly, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asm, ok := r.byAlias[alias]
	if !ok {
		return Assembly{}, cerr.New(cerr.KindUnknownAlias, fmt.Sprintf("unknown assembly alias %q", alias))
	}
	return *asm, nil
}

// Resolve accepts either a registered alias or a literal
// "<class>/<instance>" (or "<class>:<instance>") pair, decimal or
// 0x-prefixed hex per component. Literal resolution never consults or
// mutates the alias table; the returned Assembly for a literal carries only
// the class and instance, no layout.
func (r *Registry) Resolve(identifier string) (Assembly, error) {
	r.mu.RLock()
	asm, ok := r.byAlias[identifier]
	r.mu.RUnlock()
	if ok {
		return *asm, nil
	}

	token := strings.TrimSpace(identifier)
	var parts []string
	if strings.Contains(token, "/") {
		parts = strings.SplitN(token, "/", 2)
	} else if strings.Contains(token, ":") {
		parts = strings.SplitN(token, ":", 2)
	} else {
		return Assembly{}, cerr.New(cerr.KindUnknownAlias, fmt.Sprintf("unknown assembly alias %q", identifier))
	}

	class, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 0, 16)
	if err != nil {
		return Assembly{}, cerr.Wrap(cerr.KindUnknownAlias, fmt.Sprintf("invalid assembly identifier %q", identifier), err)
	}
	instance, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 0, 16)
	if err != nil {
		return Assembly{}, cerr.Wrap(cerr.KindUnknownAlias, fmt.Sprintf("invalid assembly identifier %q", identifier), err)
	}

	return Assembly{
		Alias:      identifier,
		ClassID:    uint16(class),
		InstanceID: uint16(instance),
		Direction:  DirectionBidirectional,
		Size:       -1,
	}, nil
}

// ResolveWrite resolves a write target to (class_id, instance_id,
// attribute_id = 3) per the Assembly Data attribute convention.
func (r *Registry) ResolveWrite(identifier string) (uint16, uint16, uint16, error) {
	asm, err := r.Resolve(identifier)
	if err != nil {
		return 0, 0, 0, err
	}
	return asm.ClassID, asm.InstanceID, DataAttributeID, nil
}

// AttributeSpec returns the named attribute spec used by batch updates.
func (r *Registry) AttributeSpec(name string) (AttributeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	if !ok {
		return AttributeSpec{}, cerr.New(cerr.KindConfigInvalid, fmt.Sprintf("unknown attribute %q", name))
	}
	return spec, nil
}
