package thermostat

import (
	"context"
	"fmt"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
)

// RelayClient is how the controller asks the relay driver to change one
// wire, a close analogue of hvac_control_wire's single req/rep round
// trip in tstat.c, generalised to work over either the in-process bus or
// the authenticated network transport.
type RelayClient interface {
	SetWire(ctx context.Context, wire busproto.HVACWire, connect bool) (bool, error)
}

func setWireRequest(wire busproto.HVACWire, connect bool) *busproto.Request {
	value := busproto.Off
	if connect {
		value = busproto.On
	}
	return &busproto.Request{
		Kind:    busproto.RequestSetHVACWire,
		SetWire: []busproto.RelayChange{{Wire: wire, Value: value}},
	}
}

func firstSuccess(wire busproto.HVACWire, reply *busproto.RequestReply) (bool, error) {
	if len(reply.SetHVACWireSuccess) < 1 {
		return false, fmt.Errorf("thermostat: relay driver returned no result for %s", wire)
	}
	return reply.SetHVACWireSuccess[0], nil
}

// LocalRelayClient reaches a same-process (or same-bus) relay driver
// over a shared bus.Connection, via Request/RequestWait's req/rep
// semantics.
type LocalRelayClient struct {
	Conn  *bus.Connection
	Topic bus.Topic
}

func (c *LocalRelayClient) SetWire(ctx context.Context, wire busproto.HVACWire, connect bool) (bool, error) {
	req := setWireRequest(wire, connect)
	msg := c.Conn.NewMessage(c.Topic, req, false)
	reply, err := c.Conn.RequestWait(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("thermostat: requesting %s: %w", wire, err)
	}
	rr, ok := reply.Payload.(*busproto.RequestReply)
	if !ok {
		return false, fmt.Errorf("thermostat: malformed reply for %s", wire)
	}
	return firstSuccess(wire, rr)
}

// NetworkRelayClient reaches a relay driver over the authenticated
// network transport, using SendRequest's synchronous send-then-recv.
type NetworkRelayClient struct {
	SC *bus.SecureConn
}

func (c *NetworkRelayClient) SetWire(ctx context.Context, wire busproto.HVACWire, connect bool) (bool, error) {
	reply, err := bus.SendRequest(c.SC, setWireRequest(wire, connect))
	if err != nil {
		return false, fmt.Errorf("thermostat: requesting %s: %w", wire, err)
	}
	return firstSuccess(wire, reply)
}
