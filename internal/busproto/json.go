package busproto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonRelayChange mirrors RelayChange for diagnostic CLI input/output,
// spelling the wire and tristate as their string forms rather than raw
// integers.
type jsonRelayChange struct {
	Wire  string `json:"wire"`
	Value string `json:"value"`
}

// jsonGoals mirrors ControllerGoals for the CLI's JSON encoding.
type jsonGoals struct {
	Mode               string `json:"mode"`
	HeatSetpointCentiC int32  `json:"heat_setpoint_centi_c"`
	CoolSetpointCentiC int32  `json:"cool_setpoint_centi_c"`
	HysteresisCentiC   int32  `json:"hysteresis_centi_c"`
}

// jsonRequest is the on-disk/argv shape fabdctl reads: a request "kind"
// plus whichever of goals/set_wire applies to that kind. Fields that
// don't apply to the given kind are ignored rather than rejected, so a
// minimal document ({"kind": "get_goals"}) is valid.
type jsonRequest struct {
	Kind    string             `json:"kind"`
	Goals   *jsonGoals         `json:"goals,omitempty"`
	SetWire []jsonRelayChange  `json:"set_wire,omitempty"`
}

// jsonRequestReply is the shape fabdctl prints on stdout after a round
// trip.
type jsonRequestReply struct {
	Goals              *jsonGoals `json:"goals,omitempty"`
	SetHVACWireSuccess []bool     `json:"set_hvacwire_success,omitempty"`
}

// RequestFromJSON decodes a diagnostic-CLI JSON document into a Request,
// name-matching fields and range-checking setpoints against int32.
// Unknown fields are a decoding error, not silently dropped.
func RequestFromJSON(b []byte) (*Request, error) {
	var jr jsonRequest
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jr); err != nil {
		return nil, fmt.Errorf("busproto: decoding request JSON: %w", err)
	}
	kind, err := ParseRequestKind(jr.Kind)
	if err != nil {
		return nil, err
	}
	req := &Request{Kind: kind}

	switch kind {
	case RequestSetGoals:
		if jr.Goals == nil {
			return nil, fmt.Errorf("busproto: set_goals request requires a \"goals\" object")
		}
		mode, err := ParseControllerMode(jr.Goals.Mode)
		if err != nil {
			return nil, err
		}
		req.SetGoals = &ControllerGoals{
			Mode:               mode,
			HeatSetpointCentiC: jr.Goals.HeatSetpointCentiC,
			CoolSetpointCentiC: jr.Goals.CoolSetpointCentiC,
			HysteresisCentiC:   jr.Goals.HysteresisCentiC,
		}
	case RequestSetHVACWire:
		if len(jr.SetWire) == 0 {
			return nil, fmt.Errorf("busproto: set_hvacwire request requires a non-empty \"set_wire\" array")
		}
		for _, e := range jr.SetWire {
			wire, err := ParseHVACWire(e.Wire)
			if err != nil {
				return nil, err
			}
			value, err := ParseTristate(e.Value)
			if err != nil {
				return nil, err
			}
			req.SetWire = append(req.SetWire, RelayChange{Wire: wire, Value: value})
		}
	case RequestGetGoals:
		// No payload fields.
	}
	return req, nil
}

// RequestReplyToJSON renders a RequestReply in the same field-naming
// scheme RequestFromJSON reads, for fabdctl's stdout output.
func RequestReplyToJSON(r *RequestReply) ([]byte, error) {
	var jr jsonRequestReply
	if r.Goals != nil {
		jr.Goals = &jsonGoals{
			Mode:               r.Goals.Mode.String(),
			HeatSetpointCentiC: r.Goals.HeatSetpointCentiC,
			CoolSetpointCentiC: r.Goals.CoolSetpointCentiC,
			HysteresisCentiC:   r.Goals.HysteresisCentiC,
		}
	}
	jr.SetHVACWireSuccess = r.SetHVACWireSuccess
	return json.MarshalIndent(jr, "", "  ")
}
