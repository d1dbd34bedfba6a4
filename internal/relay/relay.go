// Package relay implements the HVAC wire safety interlocks (C5): the
// layer that sits between "someone asked for wire X to be driven to
// value Y" and the actual GPIO/backplate write, refusing or redirecting
// requests that would damage the equipment. It is a close translation
// of control_wire_safe/control_wire_unsafe in gpio_hvac.c, generalised
// so both the GPIO relay driver and the backplate relay driver can sit
// behind it.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/tsclock"
)

// Sentinel errors a caller can match on, per spec's error-handling
// taxonomy.
var (
	ErrUnknownWire         = errors.New("relay: wire has no safety rule and is refused")
	ErrShortCycleLockout   = errors.New("relay: compressor/heat-2 shutoff lockout still active")
	ErrReversingUnderLoad  = errors.New("relay: reversing valve change refused while compressor running")
	ErrFanOffWhileHeating  = errors.New("relay: fan cannot be turned off while compressor or heat 2 is running")
	ErrDriverUnavailable   = errors.New("relay: wire has no backing driver line configured")
)

// ShutoffDelay is the minimum time compressor (Y1) or heat-2 (W2) must
// stay off before being allowed back on — 337.5s, from
// ts_shutoff_delay in gpio_hvac.c.
const ShutoffDelay = 337*time.Second + 500*time.Millisecond

// ReversingTolerance is the grace window after the compressor last
// changed during which a reversing-valve (OB) change is still allowed
// even though the compressor is on, matching ts_reversing_delay_tolerance.
const ReversingTolerance = 1 * time.Second

// Line is the driver-facing handle for one physical wire: Set applies
// connect/disconnect at the hardware (or backplate) level and returns
// an error if that fails.
type Line interface {
	Set(connect bool) error
}

type wireState struct {
	value       busproto.Tristate
	lastChanged tsclock.Time
	line        Line
}

// Controller holds per-wire state and line bindings and enforces the
// interlocks on every Set request. One Controller instance exists per
// relay driver process.
type Controller struct {
	mu    sync.Mutex
	wires [busproto.WireCount]wireState
	// OnChange is invoked (outside the lock) whenever a wire's value
	// actually changes, so the driver can publish a wire-change event.
	// It is nil-safe to leave unset.
	OnChange func(wire busproto.HVACWire, connect bool)
}

// NewController creates a Controller with every wire's last-changed
// timestamp set to now, matching gpio_hvac_obj_init's rationale: the
// shutoff lockout must not treat process start as "already off long
// enough" by accident, so the clock starts ticking from boot.
func NewController() *Controller {
	c := &Controller{}
	now := tsclock.Now()
	for i := range c.wires {
		c.wires[i].value = busproto.Unknown
		c.wires[i].lastChanged = now
	}
	return c
}

// BindLine attaches a driver Line to wire. Wires with no bound line are
// still tracked (so safety decisions about them remain meaningful) but
// Set on them fails with ErrDriverUnavailable.
func (c *Controller) BindLine(wire busproto.HVACWire, line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wires[wire].line = line
}

// Snapshot returns the current value of every wire that has ever been
// observed (i.e. is not Unknown), for the late-join subscriber snapshot
// (got_new_subscriber's equivalent).
func (c *Controller) Snapshot() []busproto.RelayChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []busproto.RelayChange
	for w := busproto.HVACWire(0); w < busproto.WireCount; w++ {
		if c.wires[w].value == busproto.Unknown {
			continue
		}
		out = append(out, busproto.RelayChange{Wire: w, Value: c.wires[w].value})
	}
	return out
}

// Set requests wire be driven to connect, applying the same interlocks
// as control_wire_safe. It returns one of the sentinel errors above if
// refused, or the underlying Line's error if the hardware write itself
// fails. OnChange callbacks (if any) fire synchronously after the wire
// state has been updated but before Set returns, in the order the
// underlying wires actually changed — recursive forced-fan-on and
// corrective compressor-off changes fire their own callbacks before the
// call that triggered them returns, preserving a single deterministic
// sequence rather than racing callbacks across goroutines.
func (c *Controller) Set(wire busproto.HVACWire, connect bool) error {
	c.mu.Lock()
	var pending []func()
	err := c.setLocked(wire, connect, &pending)
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return err
}

// ForceUnsafe drives wire directly via the unsafe path, bypassing every
// interlock, and still records the resulting tristate and last-changed
// timestamp. This is for the narrow set of cases the protocol itself
// demands bypassing safety for: forcing a wire Off after a backplate
// reset (FetPresence handling), where correctness about the relay's
// actual state outranks the normal lockouts.
func (c *Controller) ForceUnsafe(wire busproto.HVACWire, connect bool) error {
	c.mu.Lock()
	var pending []func()
	err := c.applyLocked(wire, connect, &pending)
	c.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
	return err
}

func (c *Controller) setLocked(wire busproto.HVACWire, connect bool, pending *[]func()) error {
	switch wire {
	case busproto.WireY1, busproto.WireW2:
		if connect && c.wires[wire].value != busproto.On {
			soonestCycle := c.wires[wire].lastChanged.Add(ShutoffDelay)
			if tsclock.Now().Cmp(soonestCycle) < 0 {
				return fmt.Errorf("%w: %s", ErrShortCycleLockout, wire)
			}
			fan := &c.wires[busproto.WireG]
			if fan.line != nil && fan.value != busproto.On {
				if err := c.setLocked(busproto.WireG, true, pending); err != nil {
					return fmt.Errorf("relay: forcing fan on before enabling %s: %w", wire, err)
				}
			}
		}
	case busproto.WireOB:
		compressor := &c.wires[busproto.WireY1]
		if compressor.value != busproto.Off && connect != (c.wires[wire].value == busproto.On) {
			tolerance := compressor.lastChanged.Add(ReversingTolerance)
			if tsclock.Now().Cmp(tolerance) > 0 {
				// best-effort corrective action: shut the compressor
				// off since continuing to run it against a reversing
				// valve change is presumably not what anyone wants.
				_ = c.setLocked(busproto.WireY1, false, pending)
				return ErrReversingUnderLoad
			}
		}
	case busproto.WireG:
		if !connect {
			if c.wires[busproto.WireY1].value != busproto.Off {
				return ErrFanOffWhileHeating
			}
			heat2 := &c.wires[busproto.WireW2]
			if heat2.line != nil && heat2.value != busproto.Off {
				return ErrFanOffWhileHeating
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownWire, wire)
	}
	return c.applyLocked(wire, connect, pending)
}

func (c *Controller) applyLocked(wire busproto.HVACWire, connect bool, pending *[]func()) error {
	w := &c.wires[wire]
	if w.line == nil {
		return fmt.Errorf("%w: %s", ErrDriverUnavailable, wire)
	}
	if err := w.line.Set(connect); err != nil {
		return fmt.Errorf("relay: setting %s: %w", wire, err)
	}
	newValue := busproto.Off
	if connect {
		newValue = busproto.On
	}
	changed := w.value != newValue
	if changed {
		w.lastChanged = tsclock.Now()
	}
	w.value = newValue
	if changed && c.OnChange != nil {
		onChange, changedWire, changedConnect := c.OnChange, wire, connect
		*pending = append(*pending, func() { onChange(changedWire, changedConnect) })
	}
	return nil
}
