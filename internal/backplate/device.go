package backplate

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/relay"
)

// Sink receives decoded backplate messages. It replaces the original's
// per-device function-pointer callbacks (cb_msg_weather, cb_msg_log,
// ...) with one method per message class, per the Design Notes'
// guidance to avoid raw function-pointer fields in an
// interface-based language.
type Sink interface {
	OnLog(text string)
	OnWeather(r busproto.WeatherReading)
	OnPowerStatus(p busproto.PowerStatus)
}

// Device owns one open backplate serial connection: the incremental
// frame reader, the relay safety controller for the wires it exposes,
// and the sink that consumes decoded application messages.
type Device struct {
	rw      io.ReadWriter
	reader  Reader
	sink    Sink
	Relay   *relay.Controller
	lastWeather *busproto.WeatherReading
	lastPower   *busproto.PowerStatus
}

// NewDevice wraps an open serial connection. rw is typically an
// *os.File opened on the backplate's tty and configured per
// internal/serial.
func NewDevice(rw io.ReadWriter, sink Sink) *Device {
	d := &Device{rw: rw, sink: sink, Relay: relay.NewController()}
	for w := busproto.HVACWire(0); w < busproto.WireCount; w++ {
		d.Relay.BindLine(w, unsafeLine{d: d, wire: w})
	}
	return d
}

// ReadAvailable reads whatever is currently available from the serial
// connection, feeds it to the incremental frame reader, and dispatches
// every complete frame found. It returns the number of frames
// dispatched. A read error is returned wrapped ("backplate: read: ...") — per §7's transient
// I/O error handling, the caller retries at its own cadence rather than
// treating this as fatal.
func (d *Device) ReadAvailable() (int, error) {
	var scratch [4096]byte
	n, err := d.rw.Read(scratch[:])
	if err != nil {
		return 0, fmt.Errorf("backplate: read: %w", err)
	}
	d.reader.Feed(scratch[:n])

	dispatched := 0
	for {
		frame, ok, derr := d.reader.Next()
		if derr != nil {
			return dispatched, derr
		}
		if !ok {
			return dispatched, nil
		}
		d.dispatch(frame)
		dispatched++
	}
}

func (d *Device) dispatch(f *Frame) {
	switch f.Type {
	case MsgLog:
		if d.sink != nil {
			d.sink.OnLog(nullTerminatedString(f.Payload))
		}
	case MsgWeather:
		if len(f.Payload) < 4 {
			log.Printf("backplate: Weather payload too short: %d bytes", len(f.Payload))
			return
		}
		r := busproto.WeatherReading{
			TemperatureCentiC: int32(int16(binary.LittleEndian.Uint16(f.Payload[0:2]))),
			HumidityPerMille:  int32(binary.LittleEndian.Uint16(f.Payload[2:4])),
		}
		d.lastWeather = &r
		if d.sink != nil {
			d.sink.OnWeather(r)
		}
	case MsgFetPresence:
		d.handleFetPresence(f.Payload)
	case MsgPowerStatus:
		p, err := decodePowerStatus(f.Payload)
		if err != nil {
			log.Printf("backplate: %v", err)
			return
		}
		d.lastPower = &p
		if d.sink != nil {
			d.sink.OnPowerStatus(p)
		}
	default:
		// Unknown message type: silently dropped per §7's protocol
		// error taxonomy.
	}
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// handleFetPresence implements §4.4's FetPresence handling and
// invariant 4 of §8: every wire whose tracked asserted state was On is
// forced Off via the unsafe path before the ACK is sent, because relay
// state is not assumed to have survived a backplate reset.
func (d *Device) handleFetPresence(payload []byte) {
	for i, b := range payload {
		wire := busproto.HVACWire(i)
		if wire >= busproto.WireCount {
			break
		}
		present := b != 0
		if !present {
			continue
		}
		if snap := d.Relay.Snapshot(); wireIsOn(snap, wire) {
			if err := d.SetUnsafe(wire, false); err != nil {
				log.Printf("backplate: forcing %s off after FetPresence: %v", wire, err)
			}
		}
	}
	if err := d.send(MsgFetPresenceAck, payload); err != nil {
		log.Printf("backplate: sending FetPresenceAck: %v", err)
	}
}

func wireIsOn(snap []busproto.RelayChange, wire busproto.HVACWire) bool {
	for _, rc := range snap {
		if rc.Wire == wire {
			return rc.Value == busproto.On
		}
	}
	return false
}

func decodePowerStatus(payload []byte) (busproto.PowerStatus, error) {
	// Fixed-offset layout: state, flags, pin, 2 reserved u16s, vi(cV),
	// vo(mV), vb(mV), pins, wires — from nbp_device's
	// cb_msg_power_status signature in the original header.
	const wantLen = 1 + 1 + 1 + 4 + 2 + 2 + 2 + 1 + 1
	if len(payload) < wantLen {
		return busproto.PowerStatus{}, fmt.Errorf("backplate: PowerStatus payload too short: got %d, want %d", len(payload), wantLen)
	}
	const noChargeFlag = 0x40
	state := payload[0]
	flags := payload[1]
	pin := payload[2]
	off := 3 + 4 // skip the two reserved u16 fields
	vi := binary.LittleEndian.Uint16(payload[off : off+2])
	vo := binary.LittleEndian.Uint16(payload[off+2 : off+4])
	vb := binary.LittleEndian.Uint16(payload[off+4 : off+6])
	pins := payload[off+6]
	wires := payload[off+7]
	return busproto.PowerStatus{
		State:        state,
		Pin:          pin,
		ViCentiVolts: uint32(vi),
		VoMilliVolts: uint32(vo),
		VbMilliVolts: uint32(vb),
		Pins:         pins,
		Wires:        wires,
		NoCharge:     flags&noChargeFlag != 0,
	}, nil
}

// send writes one frame and treats a partial write as an error per
// §4.4's "Sending" rule.
func (d *Device) send(typ MessageType, payload []byte) error {
	wire := Encode(typ, payload)
	n, err := d.rw.Write(wire)
	if err != nil {
		return fmt.Errorf("backplate: write: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("backplate: short write: wrote %d of %d bytes", n, len(wire))
	}
	return nil
}

// SetUnsafe sends one FetControl through the wire's unsafeLine,
// bypassing the safety interlocks, and updates the tracked RelayState
// (both via Relay.ForceUnsafe) — used for forced-off paths (FetPresence
// recovery) where the interlocks must not apply.
func (d *Device) SetUnsafe(wire busproto.HVACWire, connect bool) error {
	return d.Relay.ForceUnsafe(wire, connect)
}

// SetSafe applies the relay safety interlocks and, if they allow it,
// sends FetControl.
func (d *Device) SetSafe(wire busproto.HVACWire, connect bool) error {
	return d.Relay.Set(wire, connect)
}

// unsafeLine adapts Device.send to the relay.Line interface so the
// safety controller's bookkeeping (last-changed timestamps, tristate
// tracking) applies uniformly whether the underlying transport is a
// GPIO line or a backplate FetControl message.
type unsafeLine struct {
	d    *Device
	wire busproto.HVACWire
}

func (u unsafeLine) Set(connect bool) error {
	state := byte(0)
	if connect {
		state = 1
	}
	return u.d.send(MsgFetControl, []byte{byte(u.wire), state})
}

// RequestPeriodic sends the no-payload ReqPeriodic message, driven by
// the relay driver's periodic timer (default 30s, per §4.6).
func (d *Device) RequestPeriodic() error {
	return d.send(MsgReqPeriodic, nil)
}

// Reset sends the no-payload Reset message.
func (d *Device) Reset() error {
	return d.send(MsgReset, nil)
}
