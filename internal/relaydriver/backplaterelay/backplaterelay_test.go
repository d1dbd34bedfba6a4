package backplaterelay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freeabode/thermocore/internal/backplate"
	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
)

type loopbackConn struct {
	mu    sync.Mutex
	inbox []byte
	sent  [][]byte
}

func (c *loopbackConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := copy(p, c.inbox)
	c.inbox = c.inbox[n:]
	return n, nil
}

func (c *loopbackConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), p...)
	c.sent = append(c.sent, cp)
	return len(p), nil
}

func TestWeatherPublishedAsEvent(t *testing.T) {
	b := bus.New(0)
	conn := b.NewConnection("relay")
	serial := &loopbackConn{}
	r := New(serial, conn)

	sub := b.NewConnection("watcher").Subscribe(bus.T("weather", "event"))

	payload := make([]byte, 4)
	payload[0], payload[1] = 0xa6, 0x08 // 2214 little-endian
	payload[2], payload[3] = 0xc8, 0x01 // 456 little-endian
	serial.inbox = backplate.Encode(backplate.MsgWeather, payload)

	if _, err := r.Device.ReadAvailable(); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-sub.Channel():
		ev := msg.Payload.(*busproto.Event)
		if ev.Kind != busproto.EventWeather || ev.Weather == nil {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected a weather event to have been published")
	}
}

func TestRunSendsPeriodicRequest(t *testing.T) {
	b := bus.New(0)
	conn := b.NewConnection("relay")
	serial := &loopbackConn{}
	r := New(serial, conn)
	r.PeriodicInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_ = r.Run(ctx, make(chan struct{}))

	serial.mu.Lock()
	defer serial.mu.Unlock()
	if len(serial.sent) == 0 {
		t.Fatal("expected at least one ReqPeriodic frame to have been sent")
	}
}
