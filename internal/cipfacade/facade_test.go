package cipfacade

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/tturner/cipsession/internal/assembly"
	"github.com/tturner/cipsession/internal/config"
	"github.com/tturner/cipsession/internal/plcconn"
	"github.com/tturner/cipsession/internal/plcsim"
	"github.com/tturner/cipsession/internal/session"
)

const deviceXML = `<Device>
  <Identity name="Test Device"/>
  <Assembly alias="Assembly_A" class_id="4" instance_id="100" direction="out" size="16">
    <Member name="Output1" offset="0" size="1"/>
  </Assembly>
</Device>`

func newTestFacade(t *testing.T, simOpts plcsim.Options) (*Facade, *plcsim.Server, string) {
	t.Helper()
	sim, err := plcsim.New("127.0.0.1:0", simOpts, nil)
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(sim.Close)

	cfg := config.Default()
	cfg.Host = sim.Host()
	cfg.Port = sim.Port()
	cfg.PoolSize = 1
	cfg.HeartbeatIntervalMs = 60_000
	cfg.OperationTimeoutMs = 2000

	orch := session.New(cfg, nil, nil)
	orch.SetDial(func(host string, port int) *plcconn.Connection {
		conn := plcconn.NewConnection(host, port, nil)
		conn.SetIOTimeout(500 * time.Millisecond)
		return conn
	})
	t.Cleanup(func() { orch.CloseAll(context.Background()) })

	registry := assembly.NewRegistry(nil)
	if err := registry.Load([]byte(deviceXML)); err != nil {
		t.Fatalf("registry: %v", err)
	}

	diag, err := orch.Open(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(orch, registry), sim, diag.SessionID
}

func TestReadAssemblyWords(t *testing.T) {
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{})
	sim.SetAttribute(4, 1, 3, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})

	result, err := facade.ReadAssembly(context.Background(), sessionID, 4, 1, 8)
	if err != nil {
		t.Fatalf("ReadAssembly: %v", err)
	}
	if result.DataHex != "1122334455667788" {
		t.Fatalf("data hex: got %s", result.DataHex)
	}
	want := []uint16{0x2211, 0x4433, 0x6655, 0x8877}
	if len(result.WordValues) != len(want) {
		t.Fatalf("words: got %v", result.WordValues)
	}
	for i, w := range want {
		if result.WordValues[i] != w {
			t.Fatalf("word %d: got 0x%04X, want 0x%04X", i, result.WordValues[i], w)
		}
	}
}

func TestReadAssemblyOddSizeHasNoWords(t *testing.T) {
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{})
	sim.SetAttribute(4, 1, 3, []byte{0x01, 0x02, 0x03})

	result, err := facade.ReadAssembly(context.Background(), sessionID, 4, 1, 3)
	if err != nil {
		t.Fatalf("ReadAssembly: %v", err)
	}
	if result.WordValues != nil {
		t.Fatalf("odd size must not decode words: %v", result.WordValues)
	}
}

func TestWriteAssemblyByAliasFitsDeclaredSize(t *testing.T) {
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{})

	status, err := facade.WriteAssembly(context.Background(), sessionID, "Assembly_A", "ff00000000000000000000000000000000")
	if err != nil {
		t.Fatalf("WriteAssembly: %v", err)
	}
	if !status.OK() {
		t.Fatalf("status: %v", status)
	}

	written, ok := sim.Attribute(4, 100, 3)
	if !ok {
		t.Fatalf("simulator never saw the write")
	}
	if len(written) != 16 {
		t.Fatalf("payload not fitted to declared size: %d bytes", len(written))
	}
	if written[0] != 0xFF {
		t.Fatalf("payload: %x", written)
	}

	// Member decode of the read-back buffer.
	asm, err := facade.Registry().Lookup("Assembly_A")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	members := DecodeMembers(asm, written)
	if len(members) != 1 || members[0].Name != "Output1" {
		t.Fatalf("members: %+v", members)
	}
	if members[0].RawHex != "ff" || members[0].IntValue == nil || *members[0].IntValue != 255 {
		t.Fatalf("Output1: %+v", members[0])
	}
}

func TestGetAssemblyRuntime(t *testing.T) {
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{})
	buf := make([]byte, 16)
	buf[0] = 0x7F
	sim.SetAttribute(4, 100, 3, buf)

	runtime, err := facade.GetAssemblyRuntime(context.Background(), sessionID, "Assembly_A")
	if err != nil {
		t.Fatalf("GetAssemblyRuntime: %v", err)
	}
	if runtime.Alias != "Assembly_A" {
		t.Fatalf("alias: %s", runtime.Alias)
	}
	if len(runtime.Members) != 1 || runtime.Members[0].RawHex != "7f" {
		t.Fatalf("members: %+v", runtime.Members)
	}
}

func TestUpdateAttributesAppliesValues(t *testing.T) {
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{})
	sim.SetAttribute(4, 100, 0x09, []byte{0x0A, 0x00})
	sim.SetAttribute(4, 100, 0x0B, []byte{0x02})

	results, err := facade.UpdateAttributes(context.Background(), sessionID, "Assembly_A", map[string]int64{
		"production_trigger":      1,
		"production_inhibit_time": 500,
	}, true)
	if err != nil {
		t.Fatalf("UpdateAttributes: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: %+v", results)
	}

	inhibit, _ := sim.Attribute(4, 100, 0x09)
	if binary.LittleEndian.Uint16(inhibit) != 500 {
		t.Fatalf("inhibit time: %x", inhibit)
	}
	trigger, _ := sim.Attribute(4, 100, 0x0B)
	if trigger[0] != 1 {
		t.Fatalf("trigger: %x", trigger)
	}
}

func TestUpdateAttributesRollsBackOnPartial(t *testing.T) {
	// The trigger write (0x0B) is rejected with 0x06 after the inhibit time
	// (0x09) has already been applied; rollback must restore it.
	facade, sim, sessionID := newTestFacade(t, plcsim.Options{
		SetStatusOverrides: map[uint16]uint8{0x0B: 0x06},
	})
	sim.SetAttribute(4, 100, 0x09, []byte{0x0A, 0x00})
	sim.SetAttribute(4, 100, 0x0B, []byte{0x02})

	_, err := facade.UpdateAttributes(context.Background(), sessionID, "Assembly_A", map[string]int64{
		"production_trigger":      1,
		"production_inhibit_time": 500,
	}, true)
	if err == nil {
		t.Fatalf("expected an error naming the failing attribute")
	}

	inhibit, _ := sim.Attribute(4, 100, 0x09)
	if binary.LittleEndian.Uint16(inhibit) != 10 {
		t.Fatalf("inhibit time not rolled back: %x", inhibit)
	}
}

func TestDecodeMembersPastBuffer(t *testing.T) {
	asm := assembly.Assembly{
		Alias: "x", Size: 8,
		Members: []assembly.Member{
			{Name: "Fits", Offset: 0, Size: 2, HasOffset: true, HasSize: true},
			{Name: "PastEnd", Offset: 6, Size: 4, HasOffset: true, HasSize: true},
		},
	}
	values := DecodeMembers(asm, []byte{0x01, 0x02, 0x03, 0x04})
	if len(values) != 2 {
		t.Fatalf("values: %+v", values)
	}
	if values[0].RawHex != "0102" || values[0].IntValue == nil || *values[0].IntValue != 0x0201 {
		t.Fatalf("Fits: %+v", values[0])
	}
	if values[1].RawHex != "" || values[1].IntValue != nil {
		t.Fatalf("PastEnd must decode to empty, got %+v", values[1])
	}
}

func TestApplyMemberValueGrowsBuffer(t *testing.T) {
	asm := assembly.Assembly{
		Alias: "x", Size: 8,
		Members: []assembly.Member{
			{Name: "Tail", Offset: 6, Size: 2, HasOffset: true, HasSize: true},
		},
	}
	buf, err := ApplyMemberValue(asm, []byte{0xAA, 0xBB}, "Tail", []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("ApplyMemberValue: %v", err)
	}
	if len(buf) != 8 {
		t.Fatalf("buffer length: %d", len(buf))
	}
	if buf[0] != 0xAA || buf[1] != 0xBB {
		t.Fatalf("existing bytes lost: %x", buf)
	}
	if buf[6] != 0x01 || buf[7] != 0x02 {
		t.Fatalf("member bytes not applied: %x", buf)
	}
}
