package busproto

import "testing"

func TestWeatherReadingRoundTrip(t *testing.T) {
	w := &WeatherReading{TemperatureCentiC: -123, HumidityPerMille: 455}
	got, err := UnmarshalWeatherReading(w.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if *got != *w {
		t.Fatalf("got %+v, want %+v", got, w)
	}
}

func TestRelayChangeRoundTrip(t *testing.T) {
	r := &RelayChange{Wire: WireY1, Value: On, AtUnixMs: 1753000000000}
	got, err := UnmarshalRelayChange(r.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if *got != *r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestPowerStatusRoundTrip(t *testing.T) {
	p := &PowerStatus{State: 1, Pin: 2, ViCentiVolts: 1200, VoMilliVolts: 5000, VbMilliVolts: 3700, Pins: 0xff, Wires: 0x0f, NoCharge: true}
	got, err := UnmarshalPowerStatus(p.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if *got != *p {
		t.Fatalf("got %+v, want %+v", got, p)
	}
}

func TestControllerGoalsRoundTrip(t *testing.T) {
	g := &ControllerGoals{Mode: ModeCool, HeatSetpointCentiC: 200, CoolSetpointCentiC: 240, HysteresisCentiC: 10}
	got, err := UnmarshalControllerGoals(g.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if *got != *g {
		t.Fatalf("got %+v, want %+v", got, g)
	}
}

func TestEventRoundTripWithSnapshot(t *testing.T) {
	e := &Event{
		Kind: EventSnapshot,
		Snapshot: []RelayChange{
			{Wire: WireY1, Value: On, AtUnixMs: 1},
			{Wire: WireG, Value: Off, AtUnixMs: 2},
		},
	}
	got, err := UnmarshalEvent(e.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != e.Kind || len(got.Snapshot) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Snapshot[0] != e.Snapshot[0] || got.Snapshot[1] != e.Snapshot[1] {
		t.Fatalf("snapshot mismatch: %+v", got.Snapshot)
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	req := &Request{
		Kind: RequestSetHVACWire,
		SetWire: []RelayChange{
			{Wire: WireY1, Value: On},
			{Wire: WireG, Value: On},
		},
	}
	gotReq, err := UnmarshalRequest(req.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if len(gotReq.SetWire) != 2 {
		t.Fatalf("got %+v", gotReq)
	}

	reply := &RequestReply{SetHVACWireSuccess: []bool{true, false}}
	gotReply, err := UnmarshalRequestReply(reply.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if len(gotReply.SetHVACWireSuccess) != 2 || !gotReply.SetHVACWireSuccess[0] || gotReply.SetHVACWireSuccess[1] {
		t.Fatalf("got %+v", gotReply)
	}
}
