package plcconn

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/tturner/cipsession/internal/cip"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/plcsim"
)

func startSim(t *testing.T, opts plcsim.Options) *plcsim.Server {
	t.Helper()
	sim, err := plcsim.New("127.0.0.1:0", opts, nil)
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(sim.Close)
	return sim
}

func openConn(t *testing.T, sim *plcsim.Server) *Connection {
	t.Helper()
	conn := NewConnection(sim.Host(), sim.Port(), nil)
	conn.SetIOTimeout(500 * time.Millisecond)
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return conn
}

func TestRegisterAndTearDown(t *testing.T) {
	sim := startSim(t, plcsim.Options{SessionHandle: 0x000000AB})
	conn := openConn(t, sim)

	if conn.State() != StateRegistered {
		t.Fatalf("state: got %s, want registered", conn.State())
	}
	if conn.SessionHandle() != 0x000000AB {
		t.Fatalf("session handle: got 0x%08X, want 0x000000AB", conn.SessionHandle())
	}

	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.State() != StateClosed {
		t.Fatalf("state after close: got %s", conn.State())
	}

	// UnregisterSession is write-only; give the simulator a moment to see it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		handles := sim.UnregisteredHandles()
		if len(handles) == 1 && handles[0] == 0x000000AB {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("simulator never saw UnregisterSession for 0xAB: %v", sim.UnregisteredHandles())
}

func TestForwardOpenClass3Read(t *testing.T) {
	sim := startSim(t, plcsim.Options{OTConnID: 0x11223344, TOConnID: 0x55667788})
	sim.SetAttribute(4, 1, 3, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})

	conn := openConn(t, sim)
	defer conn.Close(context.Background())

	if err := conn.Connect(context.Background(), DefaultForwardOpenParams(0x02, 0x01)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	otID, toID := conn.ConnectionIDs()
	if otID != 0x11223344 || toID != 0x55667788 {
		t.Fatalf("connection IDs: got 0x%08X / 0x%08X", otID, toID)
	}

	status, data, err := conn.RequestUnit(context.Background(), cip.ServiceGetAttributeSingle, cip.ClassInstanceAttribute(4, 1, 3), nil)
	if err != nil {
		t.Fatalf("RequestUnit: %v", err)
	}
	if !status.OK() {
		t.Fatalf("status: %v", status)
	}
	if !bytes.Equal(data, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}) {
		t.Fatalf("data: got %x", data)
	}
	if sim.LastSeq() != 1 {
		t.Fatalf("sequence on wire: got %d, want 1", sim.LastSeq())
	}
}

func TestSequenceCounterMonotonic(t *testing.T) {
	sim := startSim(t, plcsim.Options{})
	sim.SetAttribute(4, 1, 3, []byte{0x00})

	conn := openConn(t, sim)
	defer conn.Close(context.Background())
	if err := conn.Connect(context.Background(), DefaultForwardOpenParams(0x02, 0x01)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 1; i <= 5; i++ {
		_, _, err := conn.RequestUnit(context.Background(), cip.ServiceGetAttributeSingle, cip.ClassInstanceAttribute(4, 1, 3), nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if conn.Seq() != uint16(i) {
			t.Fatalf("seq after request %d: got %d", i, conn.Seq())
		}
		if sim.LastSeq() != uint16(i) {
			t.Fatalf("wire seq after request %d: got %d", i, sim.LastSeq())
		}
	}
}

func TestCIPErrorIsReturnedValue(t *testing.T) {
	sim := startSim(t, plcsim.Options{
		SetStatusOverrides: map[uint16]uint8{3: 0x0C}, // object state conflict
	})

	conn := openConn(t, sim)
	defer conn.Close(context.Background())
	if err := conn.Connect(context.Background(), DefaultForwardOpenParams(0x02, 0x01)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	status, _, err := conn.RequestUnit(context.Background(), cip.ServiceSetAttributeSingle, cip.ClassInstanceAttribute(4, 100, 3), []byte{0xFF})
	if err != nil {
		t.Fatalf("expected CIP error as a value, got Go error: %v", err)
	}
	if status.General != 0x0C {
		t.Fatalf("status: got %v, want general=0x0C", status)
	}
	if conn.State() != StateConnected {
		t.Fatalf("CIP error must not break the connection, state: %s", conn.State())
	}
}

func TestBrokenSocketMarksConnection(t *testing.T) {
	sim := startSim(t, plcsim.Options{})
	sim.SetAttribute(4, 1, 3, []byte{0x00})

	conn := openConn(t, sim)
	defer conn.Close(context.Background())
	if err := conn.Connect(context.Background(), DefaultForwardOpenParams(0x02, 0x01)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sim.CloseNextExchange()
	_, _, err := conn.RequestUnit(context.Background(), cip.ServiceGetAttributeSingle, cip.ClassInstanceAttribute(4, 1, 3), nil)
	if err == nil {
		t.Fatalf("expected a transport error")
	}
	if !stderrors.Is(err, cerr.KindKey(cerr.KindTransport)) {
		t.Fatalf("error kind: got %v", err)
	}
	if conn.State() != StateBroken {
		t.Fatalf("state: got %s, want broken", conn.State())
	}
}

func TestRequestUnitRequiresConnected(t *testing.T) {
	sim := startSim(t, plcsim.Options{})
	conn := openConn(t, sim)
	defer conn.Close(context.Background())

	_, _, err := conn.RequestUnit(context.Background(), cip.ServiceGetAttributeSingle, cip.ClassInstanceAttribute(4, 1, 3), nil)
	if err == nil {
		t.Fatalf("expected error in registered state")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sim := startSim(t, plcsim.Options{})
	conn := openConn(t, sim)

	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestProbeListServicesWhenConnected(t *testing.T) {
	sim := startSim(t, plcsim.Options{})
	conn := openConn(t, sim)
	defer conn.Close(context.Background())
	if err := conn.Connect(context.Background(), DefaultForwardOpenParams(0x02, 0x01)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := conn.Probe(context.Background(), []byte{0xCA, 0xFE}); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	sim.Mute(true)
	if err := conn.Probe(context.Background(), []byte{0xCA, 0xFE}); err == nil {
		t.Fatalf("expected probe timeout while muted")
	}
}
