// Package relaydriver implements the relay driver main loop (C6): the
// process that owns the physical (or backplate-mediated) HVAC wires,
// answers set-wire control requests, and publishes wire-change events.
// It is deliberately transport-agnostic — internal/relaydriver/gpiorelay
// and internal/relaydriver/backplaterelay supply the relay.Line
// implementations and any driver-specific polling, but the request
// handling and event publishing logic here is shared between them, per
// spec's requirement that both variants enforce the same interlocks and
// expose the same control surface.
package relaydriver

import (
	"context"
	"log"
	"time"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/relay"
)

// EventTopic is where wire-change and snapshot events are published.
// ControlTopic is where set_hvacwire requests are served, for
// same-process callers; network peers reach the same handler through
// internal/bus's req/rep transport instead.
var (
	EventTopic   = bus.T("hvac", "event")
	ControlTopic = bus.T("hvac", "control")
)

// Driver wires a relay.Controller to the bus: every interlock-approved
// wire change is published as an Event, and set_hvacwire requests
// arriving on ControlTopic (or over the network transport) are applied
// through the same Controller.
type Driver struct {
	Conn  *bus.Connection
	Relay *relay.Controller
}

// New creates a Driver and installs its wire-change publisher as r's
// OnChange callback. r must not already have an OnChange set.
func New(conn *bus.Connection, r *relay.Controller) *Driver {
	d := &Driver{Conn: conn, Relay: r}
	r.OnChange = d.publishWireChange
	return d
}

func (d *Driver) publishWireChange(wire busproto.HVACWire, connect bool) {
	value := busproto.Off
	if connect {
		value = busproto.On
	}
	ev := &busproto.Event{
		Kind: busproto.EventRelayChange,
		Relay: &busproto.RelayChange{
			Wire:     wire,
			Value:    value,
			AtUnixMs: time.Now().UnixMilli(),
		},
	}
	d.Conn.Publish(d.Conn.NewMessage(EventTopic, ev, true))
}

// PublishSnapshot synthesises an Event carrying one Snapshot entry per
// wire whose state is not Unknown and publishes it — the relay driver's
// reaction to "a subscriber-join notification whose first byte is
// nonzero" from spec §4.6. It publishes only when called: in this module
// cmd/relaydriver-gpio calls it once at startup, and nothing calls it
// when a peer or subscriber joins. A local same-process subscriber still
// receives the most recent retained Event on EventTopic (a snapshot or a
// single wire change) when it subscribes.
func (d *Driver) PublishSnapshot() {
	ev := &busproto.Event{Kind: busproto.EventSnapshot, Snapshot: d.Relay.Snapshot()}
	d.Conn.Publish(d.Conn.NewMessage(EventTopic, ev, true))
}

// HandleRequest answers one control Request. For RequestSetHVACWire it
// invokes the safe setter for each entry in order, per spec §4.6, and
// replies with an equal-length success list.
func (d *Driver) HandleRequest(req *busproto.Request) *busproto.RequestReply {
	switch req.Kind {
	case busproto.RequestSetHVACWire:
		successes := make([]bool, len(req.SetWire))
		for i, rc := range req.SetWire {
			err := d.Relay.Set(rc.Wire, rc.Value == busproto.On)
			successes[i] = err == nil
			if err != nil {
				log.Printf("relaydriver: set %s %s: %v", rc.Wire, rc.Value, err)
			}
		}
		return &busproto.RequestReply{SetHVACWireSuccess: successes}
	default:
		return &busproto.RequestReply{}
	}
}

// ServeLocalControl answers Requests published on ControlTopic until ctx
// is cancelled — the in-process equivalent of the network control
// socket, used when a client (e.g. the thermostat controller) shares a
// process or a bus with the relay driver instead of reaching it over the
// network transport.
func (d *Driver) ServeLocalControl(ctx context.Context) {
	sub := d.Conn.Subscribe(ControlTopic)
	defer d.Conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			req, ok := msg.Payload.(*busproto.Request)
			if !ok {
				continue
			}
			d.Conn.Reply(msg, d.HandleRequest(req))
		}
	}
}
