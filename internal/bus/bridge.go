package bus

import (
	"context"
	"log"

	"github.com/freeabode/thermocore/internal/busproto"
)

// PublishEvents runs until sc.Recv fails, decoding each frame as a
// busproto.Event and republishing it on the local bus under
// topic, with Retained set so a later local subscriber immediately
// receives the most recent event published on topic (one retained
// message per topic, whatever its kind) — the network-facing half
// of the late-join snapshot property.
func PublishEvents(conn *Connection, sc *SecureConn, topic Topic) {
	for {
		raw, err := sc.Recv()
		if err != nil {
			log.Printf("bus: peer event stream ended: %v", err)
			return
		}
		ev, err := busproto.UnmarshalEvent(raw)
		if err != nil {
			log.Printf("bus: dropping malformed event from peer: %v", err)
			continue
		}
		conn.Publish(conn.NewMessage(topic, ev, true))
	}
}

// ForwardEvents subscribes to topic on the local bus and seals/sends
// every message it sees out over sc, until ctx is cancelled.
func ForwardEvents(ctx context.Context, conn *Connection, sc *SecureConn, topic Topic) {
	sub := conn.Subscribe(topic)
	defer conn.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			ev, ok := msg.Payload.(*busproto.Event)
			if !ok {
				continue
			}
			if err := sc.Send(ev.Marshal()); err != nil {
				log.Printf("bus: forwarding event to peer failed: %v", err)
				return
			}
		}
	}
}

// ServeRequests answers Requests arriving over sc using handle, until
// sc closes. It is the server side of the backplate/relay driver's
// control socket: each inbound frame is a busproto.Request, the reply
// is a busproto.RequestReply.
func ServeRequests(sc *SecureConn, handle func(*busproto.Request) *busproto.RequestReply) {
	for {
		raw, err := sc.Recv()
		if err != nil {
			log.Printf("bus: request stream ended: %v", err)
			return
		}
		req, err := busproto.UnmarshalRequest(raw)
		if err != nil {
			log.Printf("bus: dropping malformed request: %v", err)
			continue
		}
		reply := handle(req)
		if err := sc.Send(reply.Marshal()); err != nil {
			log.Printf("bus: replying to request failed: %v", err)
			return
		}
	}
}

// SendRequest sends req over sc and waits for the matching reply. The
// control socket is strictly request-then-reply, so no correlation ID
// is needed beyond connection ordering.
func SendRequest(sc *SecureConn, req *busproto.Request) (*busproto.RequestReply, error) {
	if err := sc.Send(req.Marshal()); err != nil {
		return nil, err
	}
	raw, err := sc.Recv()
	if err != nil {
		return nil, err
	}
	return busproto.UnmarshalRequestReply(raw)
}
