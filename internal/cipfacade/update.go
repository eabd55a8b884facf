package cipfacade

// Batch attribute update with snapshot/rollback over individually
// addressed assembly attributes.

import (
	"context"
	"fmt"
	"sort"

	"github.com/tturner/cipsession/internal/assembly"
	"github.com/tturner/cipsession/internal/cip"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/session"
)

// statusPartialTransfer is the CIP general status that signals a rejected
// or interrupted attribute write during a batch update.
const statusPartialTransfer uint8 = 0x06

// UpdateAttributes applies named attribute values to the target assembly.
// Every attribute named in values is snapshotted first; the writes are then
// applied in sorted name order. When a write returns general status 0x06
// and rollbackOnPartial is set, attributes already written are restored to
// their snapshots in reverse order and an error naming the failing
// attribute is returned. The returned map carries the per-attribute CIP
// status of each completed write.
func (f *Facade) UpdateAttributes(ctx context.Context, sessionID, target string, values map[string]int64, rollbackOnPartial bool) (map[string]cip.Status, error) {
	if len(values) == 0 {
		return map[string]cip.Status{}, nil
	}

	asm, err := f.registry.Resolve(target)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make(map[string]assembly.AttributeSpec, len(names))
	snapshots := make(map[string][]byte, len(names))
	for _, name := range names {
		spec, err := f.registry.AttributeSpec(name)
		if err != nil {
			return nil, err
		}
		specs[name] = spec

		path := cip.ClassInstanceAttribute(asm.ClassID, asm.InstanceID, spec.AttributeID)
		status, payload, err := f.orch.Exchange(ctx, sessionID, cip.ServiceGetAttributeSingle, path, nil, session.TransportAuto)
		if err != nil {
			return nil, err
		}
		if !status.OK() {
			return nil, cerr.New(cerr.KindConfigInvalid,
				fmt.Sprintf("attribute %q (0x%X) unavailable on %d/%d: %s", name, spec.AttributeID, asm.ClassID, asm.InstanceID, status))
		}
		snapshots[name] = payload
	}

	results := make(map[string]cip.Status, len(names))
	var applied []string
	for _, name := range names {
		spec := specs[name]
		payload, err := spec.Encode(values[name])
		if err != nil {
			return results, err
		}

		path := cip.ClassInstanceAttribute(asm.ClassID, asm.InstanceID, spec.AttributeID)
		status, _, err := f.orch.Exchange(ctx, sessionID, cip.ServiceSetAttributeSingle, path, payload, session.TransportAuto)
		if err != nil {
			return results, err
		}
		results[name] = status

		if status.General == statusPartialTransfer && rollbackOnPartial {
			f.rollback(ctx, sessionID, asm, specs, snapshots, applied)
			return results, cerr.New(cerr.KindConfigInvalid,
				fmt.Sprintf("failed to write attribute %q: %s", name, status))
		}
		if status.OK() {
			applied = append(applied, name)
		}
	}
	return results, nil
}

// rollback restores applied attributes to their snapshots in reverse order
// of application. Rollback failures are ignored; the original error wins.
func (f *Facade) rollback(ctx context.Context, sessionID string, asm assembly.Assembly, specs map[string]assembly.AttributeSpec, snapshots map[string][]byte, applied []string) {
	for i := len(applied) - 1; i >= 0; i-- {
		name := applied[i]
		spec := specs[name]
		path := cip.ClassInstanceAttribute(asm.ClassID, asm.InstanceID, spec.AttributeID)
		f.orch.Exchange(ctx, sessionID, cip.ServiceSetAttributeSingle, path, snapshots[name], session.TransportAuto)
	}
}
