package busproto

import (
	"strings"
	"testing"
)

func TestRequestFromJSONSetHVACWire(t *testing.T) {
	req, err := RequestFromJSON([]byte(`{
		"kind": "set_hvacwire",
		"set_wire": [{"wire": "Y1", "value": "on"}, {"wire": "G", "value": "off"}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestSetHVACWire {
		t.Fatalf("kind = %v", req.Kind)
	}
	if len(req.SetWire) != 2 || req.SetWire[0].Wire != WireY1 || req.SetWire[0].Value != On {
		t.Fatalf("set_wire = %+v", req.SetWire)
	}
	if req.SetWire[1].Wire != WireG || req.SetWire[1].Value != Off {
		t.Fatalf("set_wire[1] = %+v", req.SetWire[1])
	}
}

func TestRequestFromJSONSetGoals(t *testing.T) {
	req, err := RequestFromJSON([]byte(`{
		"kind": "set_goals",
		"goals": {"mode": "cool", "heat_setpoint_centi_c": 1900, "cool_setpoint_centi_c": 2400, "hysteresis_centi_c": 50}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.SetGoals == nil || req.SetGoals.Mode != ModeCool || req.SetGoals.CoolSetpointCentiC != 2400 {
		t.Fatalf("goals = %+v", req.SetGoals)
	}
}

func TestRequestFromJSONGetGoalsNeedsNoPayload(t *testing.T) {
	req, err := RequestFromJSON([]byte(`{"kind": "get_goals"}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestGetGoals {
		t.Fatalf("kind = %v", req.Kind)
	}
}

func TestRequestFromJSONRejectsUnknownWire(t *testing.T) {
	_, err := RequestFromJSON([]byte(`{"kind": "set_hvacwire", "set_wire": [{"wire": "Z9", "value": "on"}]}`))
	if err == nil {
		t.Fatal("expected an error for an unknown wire name")
	}
}

func TestRequestFromJSONRejectsMissingSetWire(t *testing.T) {
	_, err := RequestFromJSON([]byte(`{"kind": "set_hvacwire"}`))
	if err == nil {
		t.Fatal("expected an error when set_wire is missing")
	}
}

func TestRequestFromJSONRejectsUnknownField(t *testing.T) {
	_, err := RequestFromJSON([]byte(`{"kind": "get_goals", "bogus": 1}`))
	if err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestRequestReplyToJSONRendersFields(t *testing.T) {
	reply := &RequestReply{
		Goals:              &ControllerGoals{Mode: ModeHeat, HeatSetpointCentiC: 2000},
		SetHVACWireSuccess: []bool{true, false},
	}
	b, err := RequestReplyToJSON(reply)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"mode": "heat"`) || !strings.Contains(s, "2000") {
		t.Fatalf("output missing expected fields:\n%s", s)
	}
	if !strings.Contains(s, "true") || !strings.Contains(s, "false") {
		t.Fatalf("output missing success flags:\n%s", s)
	}
}
