package relay

import (
	"errors"
	"testing"

	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/tsclock"
)

type fakeLine struct {
	state bool
	fail  bool
}

func (f *fakeLine) Set(connect bool) error {
	if f.fail {
		return errors.New("simulated hardware failure")
	}
	f.state = connect
	return nil
}

func newTestController() (*Controller, map[busproto.HVACWire]*fakeLine) {
	c := NewController()
	lines := map[busproto.HVACWire]*fakeLine{
		busproto.WireY1: {},
		busproto.WireG:  {},
		busproto.WireOB: {},
		busproto.WireW2: {},
	}
	for w, l := range lines {
		c.BindLine(w, l)
	}
	// NewController starts every wire's last-changed clock at
	// construction, which would refuse Y1 for ShutoffDelay. These tests
	// exercise the interlocks after that startup lockout, so it is taken
	// as already elapsed here.
	for i := range c.wires {
		c.wires[i].lastChanged = tsclock.Now().Add(-2 * ShutoffDelay)
	}
	return c, lines
}

func TestUnknownWireRefused(t *testing.T) {
	c, _ := newTestController()
	err := c.Set(busproto.WireRC, true)
	if !errors.Is(err, ErrUnknownWire) {
		t.Fatalf("err = %v, want ErrUnknownWire", err)
	}
}

func TestCompressorShortCycleLockout(t *testing.T) {
	c, _ := newTestController()
	if err := c.Set(busproto.WireY1, true); err != nil {
		t.Fatalf("initial turn-on failed: %v", err)
	}
	if err := c.Set(busproto.WireY1, false); err != nil {
		t.Fatalf("turn-off failed: %v", err)
	}
	err := c.Set(busproto.WireY1, true)
	if !errors.Is(err, ErrShortCycleLockout) {
		t.Fatalf("err = %v, want ErrShortCycleLockout", err)
	}
}

func TestCompressorOnForcesFanOn(t *testing.T) {
	c, lines := newTestController()
	if err := c.Set(busproto.WireY1, true); err != nil {
		t.Fatalf("turn-on failed: %v", err)
	}
	if !lines[busproto.WireG].state {
		t.Fatal("fan should have been forced on alongside the compressor")
	}
}

func TestFanRefusesOffWhileCompressorRunning(t *testing.T) {
	c, _ := newTestController()
	if err := c.Set(busproto.WireY1, true); err != nil {
		t.Fatalf("turn-on failed: %v", err)
	}
	err := c.Set(busproto.WireG, false)
	if !errors.Is(err, ErrFanOffWhileHeating) {
		t.Fatalf("err = %v, want ErrFanOffWhileHeating", err)
	}
}

func TestReversingValveAllowedWithinTolerance(t *testing.T) {
	c, _ := newTestController()
	if err := c.Set(busproto.WireY1, true); err != nil {
		t.Fatalf("turn-on failed: %v", err)
	}
	// Immediately attempting to flip OB while the compressor is still
	// within the tolerance window should succeed without complaint
	// (tolerance not yet exceeded since lastChanged == now).
	if err := c.Set(busproto.WireOB, true); err != nil {
		t.Fatalf("within-tolerance OB change should be allowed, got %v", err)
	}
}

func TestSnapshotOmitsUnknownWires(t *testing.T) {
	c, _ := newTestController()
	if len(c.Snapshot()) != 0 {
		t.Fatal("fresh controller should report no known wires")
	}
	if err := c.Set(busproto.WireG, true); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Wire != busproto.WireG || snap[0].Value != busproto.On {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestOnChangeFiresForForcedFan(t *testing.T) {
	c, _ := newTestController()
	var changed []busproto.HVACWire
	c.OnChange = func(wire busproto.HVACWire, connect bool) {
		changed = append(changed, wire)
	}
	if err := c.Set(busproto.WireY1, true); err != nil {
		t.Fatal(err)
	}
	if len(changed) != 2 {
		t.Fatalf("expected fan + compressor change notifications, got %v", changed)
	}
}

func TestHardwareFailurePropagates(t *testing.T) {
	c := NewController()
	c.BindLine(busproto.WireG, &fakeLine{fail: true})
	err := c.Set(busproto.WireG, true)
	if err == nil {
		t.Fatal("expected hardware failure to propagate")
	}
}

func TestDriverUnavailable(t *testing.T) {
	c := NewController()
	err := c.Set(busproto.WireG, true)
	if !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("err = %v, want ErrDriverUnavailable", err)
	}
}
