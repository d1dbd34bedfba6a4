// Package busproto defines the wire messages exchanged over the bus
// substrate and encodes/decodes them with
// google.golang.org/protobuf/encoding/protowire directly, field by
// field, rather than through .proto-generated code (no protoc toolchain
// is available in this environment). The byte layout produced is
// standard protobuf and stays wire-compatible with any generated client
// sharing the same field numbers.
package busproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// HVACWire identifies one backplate/relay wire, matching nbp_fet from
// the original protocol header exactly.
type HVACWire int32

const (
	WireW1 HVACWire = iota
	WireY1
	WireG
	WireOB
	WireW2
	wireReserved5
	wireReserved6
	WireY2
	WireC
	WireRC
	wireReserved10
	WireStar
	WireCount
)

func (w HVACWire) String() string {
	switch w {
	case WireW1:
		return "W1"
	case WireY1:
		return "Y1"
	case WireG:
		return "G"
	case WireOB:
		return "OB"
	case WireW2:
		return "W2"
	case WireY2:
		return "Y2"
	case WireC:
		return "C"
	case WireRC:
		return "RC"
	case WireStar:
		return "*"
	default:
		return fmt.Sprintf("wire(%d)", int32(w))
	}
}

// ParseHVACWire maps a wire's String() form back to its enum value, for
// CLI tools and JSON decoding of Request documents.
func ParseHVACWire(name string) (HVACWire, error) {
	for w := HVACWire(0); w < WireCount; w++ {
		if w.String() == name {
			return w, nil
		}
	}
	return 0, fmt.Errorf("busproto: unknown HVAC wire %q", name)
}

// Tristate is a wire's level: unknown (never observed), off, or on.
type Tristate int32

const (
	Unknown Tristate = iota
	Off
	On
)

func (t Tristate) String() string {
	switch t {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return "unknown"
	}
}

// ParseTristate maps a Tristate's String() form back to its enum value.
func ParseTristate(name string) (Tristate, error) {
	switch name {
	case "off":
		return Off, nil
	case "on":
		return On, nil
	case "unknown":
		return Unknown, nil
	default:
		return 0, fmt.Errorf("busproto: unknown tristate %q", name)
	}
}

// ControllerMode selects the thermostat controller's high-level
// behaviour.
type ControllerMode int32

const (
	ModeOff ControllerMode = iota
	ModeHeat
	ModeCool
)

func (m ControllerMode) String() string {
	switch m {
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	default:
		return "off"
	}
}

// ParseControllerMode maps a ControllerMode's String() form back to its
// enum value.
func ParseControllerMode(name string) (ControllerMode, error) {
	switch name {
	case "off":
		return ModeOff, nil
	case "heat":
		return ModeHeat, nil
	case "cool":
		return ModeCool, nil
	default:
		return 0, fmt.Errorf("busproto: unknown controller mode %q", name)
	}
}

// RequestKind names, used by the JSON CLI encoding in json.go.
func (k RequestKind) String() string {
	switch k {
	case RequestGetGoals:
		return "get_goals"
	case RequestSetGoals:
		return "set_goals"
	case RequestSetHVACWire:
		return "set_hvacwire"
	default:
		return fmt.Sprintf("request_kind(%d)", int32(k))
	}
}

// ParseRequestKind maps a RequestKind's String() form back to its enum
// value.
func ParseRequestKind(name string) (RequestKind, error) {
	switch name {
	case "get_goals":
		return RequestGetGoals, nil
	case "set_goals":
		return RequestSetGoals, nil
	case "set_hvacwire":
		return RequestSetHVACWire, nil
	default:
		return 0, fmt.Errorf("busproto: unknown request kind %q", name)
	}
}

// WeatherReading is a single decoded outdoor-sensor sample.
// TemperatureCentiC is hundredths of a degree Celsius, HumidityPerMille
// is parts per thousand, matching the wire encoding in §4.4.
type WeatherReading struct {
	TemperatureCentiC int32
	HumidityPerMille  int32
}

const (
	fieldWeatherTemperature = 1
	fieldWeatherHumidity    = 2
)

func (w *WeatherReading) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldWeatherTemperature, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(w.TemperatureCentiC)))
	b = protowire.AppendTag(b, fieldWeatherHumidity, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(w.HumidityPerMille)))
	return b
}

func UnmarshalWeatherReading(b []byte) (*WeatherReading, error) {
	w := &WeatherReading{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			continue
		}
		switch num {
		case fieldWeatherTemperature:
			w.TemperatureCentiC = int32(protowire.DecodeZigZag(v))
		case fieldWeatherHumidity:
			w.HumidityPerMille = int32(protowire.DecodeZigZag(v))
		}
	}
	return w, nil
}

// RelayChange is a single wire's observed or commanded level.
type RelayChange struct {
	Wire      HVACWire
	Value     Tristate
	AtUnixMs  int64
}

const (
	fieldRelayWire  = 1
	fieldRelayValue = 2
	fieldRelayAt    = 3
)

func (r *RelayChange) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRelayWire, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Wire))
	b = protowire.AppendTag(b, fieldRelayValue, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Value))
	b = protowire.AppendTag(b, fieldRelayAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.AtUnixMs))
	return b
}

func UnmarshalRelayChange(b []byte) (*RelayChange, error) {
	r := &RelayChange{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return nil, fmt.Errorf("busproto: unexpected wire type %v in RelayChange", typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldRelayWire:
			r.Wire = HVACWire(v)
		case fieldRelayValue:
			r.Value = Tristate(v)
		case fieldRelayAt:
			r.AtUnixMs = protowire.DecodeZigZag(v)
		}
	}
	return r, nil
}

// PowerStatus decodes the backplate's PowerStatus message
// (message type 0x000b), including the AC-present / no-charge flag the
// distilled spec collapses into "flags" but the original's
// nbp_power_flags enum exposes as NBPPF_NOCHARGE.
type PowerStatus struct {
	State        byte
	Pin          byte
	ViCentiVolts uint32
	VoMilliVolts uint32
	VbMilliVolts uint32
	Pins         byte
	Wires        byte
	NoCharge     bool
}

const (
	fieldPowerState    = 1
	fieldPowerPin      = 2
	fieldPowerVi       = 3
	fieldPowerVo       = 4
	fieldPowerVb       = 5
	fieldPowerPins     = 6
	fieldPowerWires    = 7
	fieldPowerNoCharge = 8
)

func (p *PowerStatus) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, fieldPowerState, uint64(p.State))
	b = appendVarintField(b, fieldPowerPin, uint64(p.Pin))
	b = appendVarintField(b, fieldPowerVi, uint64(p.ViCentiVolts))
	b = appendVarintField(b, fieldPowerVo, uint64(p.VoMilliVolts))
	b = appendVarintField(b, fieldPowerVb, uint64(p.VbMilliVolts))
	b = appendVarintField(b, fieldPowerPins, uint64(p.Pins))
	b = appendVarintField(b, fieldPowerWires, uint64(p.Wires))
	nocharge := uint64(0)
	if p.NoCharge {
		nocharge = 1
	}
	b = appendVarintField(b, fieldPowerNoCharge, nocharge)
	return b
}

func UnmarshalPowerStatus(b []byte) (*PowerStatus, error) {
	p := &PowerStatus{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return nil, fmt.Errorf("busproto: unexpected wire type %v in PowerStatus", typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldPowerState:
			p.State = byte(v)
		case fieldPowerPin:
			p.Pin = byte(v)
		case fieldPowerVi:
			p.ViCentiVolts = uint32(v)
		case fieldPowerVo:
			p.VoMilliVolts = uint32(v)
		case fieldPowerVb:
			p.VbMilliVolts = uint32(v)
		case fieldPowerPins:
			p.Pins = byte(v)
		case fieldPowerWires:
			p.Wires = byte(v)
		case fieldPowerNoCharge:
			p.NoCharge = v != 0
		}
	}
	return p, nil
}

// ControllerGoals is the thermostat's target state: mode plus setpoints
// and hysteresis, all in hundredths of a degree Celsius.
type ControllerGoals struct {
	Mode               ControllerMode
	HeatSetpointCentiC int32
	CoolSetpointCentiC int32
	HysteresisCentiC   int32
}

const (
	fieldGoalsMode       = 1
	fieldGoalsHeatSet    = 2
	fieldGoalsCoolSet    = 3
	fieldGoalsHysteresis = 4
)

func (g *ControllerGoals) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, fieldGoalsMode, uint64(g.Mode))
	b = protowire.AppendTag(b, fieldGoalsHeatSet, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(g.HeatSetpointCentiC)))
	b = protowire.AppendTag(b, fieldGoalsCoolSet, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(g.CoolSetpointCentiC)))
	b = protowire.AppendTag(b, fieldGoalsHysteresis, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(g.HysteresisCentiC)))
	return b
}

func UnmarshalControllerGoals(b []byte) (*ControllerGoals, error) {
	g := &ControllerGoals{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return nil, fmt.Errorf("busproto: unexpected wire type %v in ControllerGoals", typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldGoalsMode:
			g.Mode = ControllerMode(v)
		case fieldGoalsHeatSet:
			g.HeatSetpointCentiC = int32(protowire.DecodeZigZag(v))
		case fieldGoalsCoolSet:
			g.CoolSetpointCentiC = int32(protowire.DecodeZigZag(v))
		case fieldGoalsHysteresis:
			g.HysteresisCentiC = int32(protowire.DecodeZigZag(v))
		}
	}
	return g, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// EventKind discriminates the payload carried by an Event.
type EventKind int32

const (
	EventWeather EventKind = iota
	EventRelayChange
	EventPower
	EventSnapshot
)

// Event is the single message type published on the bus's event
// socket. Exactly one of the payload fields is populated, selected by
// Kind — the same "oneof" discipline a generated protobuf oneof would
// enforce, expressed here as ordinary fields since no codegen is used.
type Event struct {
	Kind     EventKind
	Weather  *WeatherReading
	Relay    *RelayChange
	Power    *PowerStatus
	Snapshot []RelayChange
}

const (
	fieldEventKind     = 1
	fieldEventWeather  = 2
	fieldEventRelay    = 3
	fieldEventPower    = 4
	fieldEventSnapshot = 5
)

func (e *Event) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, fieldEventKind, uint64(e.Kind))
	if e.Weather != nil {
		b = protowire.AppendTag(b, fieldEventWeather, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Weather.Marshal())
	}
	if e.Relay != nil {
		b = protowire.AppendTag(b, fieldEventRelay, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Relay.Marshal())
	}
	if e.Power != nil {
		b = protowire.AppendTag(b, fieldEventPower, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Power.Marshal())
	}
	for _, rc := range e.Snapshot {
		rc := rc
		b = protowire.AppendTag(b, fieldEventSnapshot, protowire.BytesType)
		b = protowire.AppendBytes(b, rc.Marshal())
	}
	return b
}

func UnmarshalEvent(b []byte) (*Event, error) {
	e := &Event{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldEventKind {
				e.Kind = EventKind(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldEventWeather:
				w, err := UnmarshalWeatherReading(v)
				if err != nil {
					return nil, err
				}
				e.Weather = w
			case fieldEventRelay:
				r, err := UnmarshalRelayChange(v)
				if err != nil {
					return nil, err
				}
				e.Relay = r
			case fieldEventPower:
				p, err := UnmarshalPowerStatus(v)
				if err != nil {
					return nil, err
				}
				e.Power = p
			case fieldEventSnapshot:
				r, err := UnmarshalRelayChange(v)
				if err != nil {
					return nil, err
				}
				e.Snapshot = append(e.Snapshot, *r)
			}
		default:
			return nil, fmt.Errorf("busproto: unexpected wire type %v in Event", typ)
		}
	}
	return e, nil
}

// RequestKind discriminates the payload carried by a Request.
type RequestKind int32

const (
	RequestGetGoals RequestKind = iota
	RequestSetGoals
	RequestSetHVACWire
)

// Request is the single message type sent on the bus's req/rep
// control socket.
type Request struct {
	Kind     RequestKind
	SetGoals *ControllerGoals
	SetWire  []RelayChange
}

const (
	fieldRequestKind     = 1
	fieldRequestSetGoals = 2
	fieldRequestSetWire  = 3
)

func (r *Request) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, fieldRequestKind, uint64(r.Kind))
	if r.SetGoals != nil {
		b = protowire.AppendTag(b, fieldRequestSetGoals, protowire.BytesType)
		b = protowire.AppendBytes(b, r.SetGoals.Marshal())
	}
	for _, rc := range r.SetWire {
		rc := rc
		b = protowire.AppendTag(b, fieldRequestSetWire, protowire.BytesType)
		b = protowire.AppendBytes(b, rc.Marshal())
	}
	return b
}

func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldRequestKind {
				r.Kind = RequestKind(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldRequestSetGoals:
				g, err := UnmarshalControllerGoals(v)
				if err != nil {
					return nil, err
				}
				r.SetGoals = g
			case fieldRequestSetWire:
				rc, err := UnmarshalRelayChange(v)
				if err != nil {
					return nil, err
				}
				r.SetWire = append(r.SetWire, *rc)
			}
		default:
			return nil, fmt.Errorf("busproto: unexpected wire type %v in Request", typ)
		}
	}
	return r, nil
}

// RequestReply answers a Request: the current goals (for GetGoals and
// SetGoals) plus one success flag per wire named in a SetHVACWire
// request, in the same order they were requested.
type RequestReply struct {
	Goals              *ControllerGoals
	SetHVACWireSuccess []bool
}

const (
	fieldReplyGoals   = 1
	fieldReplySuccess = 2
)

func (r *RequestReply) Marshal() []byte {
	var b []byte
	if r.Goals != nil {
		b = protowire.AppendTag(b, fieldReplyGoals, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Goals.Marshal())
	}
	for _, ok := range r.SetHVACWireSuccess {
		v := uint64(0)
		if ok {
			v = 1
		}
		b = appendVarintField(b, fieldReplySuccess, v)
	}
	return b
}

func UnmarshalRequestReply(b []byte) (*RequestReply, error) {
	r := &RequestReply{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldReplyGoals {
				g, err := UnmarshalControllerGoals(v)
				if err != nil {
					return nil, err
				}
				r.Goals = g
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldReplySuccess {
				r.SetHVACWireSuccess = append(r.SetHVACWireSuccess, v != 0)
			}
		default:
			return nil, fmt.Errorf("busproto: unexpected wire type %v in RequestReply", typ)
		}
	}
	return r, nil
}
