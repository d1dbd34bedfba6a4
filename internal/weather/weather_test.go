package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
)

type fakeSource struct {
	readings []busproto.WeatherReading
	errs     []error
	i        int
}

func (f *fakeSource) Read(ctx context.Context) (busproto.WeatherReading, error) {
	idx := f.i
	f.i++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return busproto.WeatherReading{}, f.errs[idx]
	}
	if idx < len(f.readings) {
		return f.readings[idx], nil
	}
	return f.readings[len(f.readings)-1], nil
}

func TestRunPublishesImmediatelyAndOnTick(t *testing.T) {
	b := bus.New(0)
	conn := b.NewConnection("weather")
	src := &fakeSource{readings: []busproto.WeatherReading{
		{TemperatureCentiC: 2100, HumidityPerMille: 400},
		{TemperatureCentiC: 2110, HumidityPerMille: 405},
	}}
	d := New(conn, src)
	d.Interval = 5 * time.Millisecond

	sub := b.NewConnection("watcher").Subscribe(EventTopic)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	events := 0
	for drained := false; !drained; {
		select {
		case msg := <-sub.Channel():
			ev := msg.Payload.(*busproto.Event)
			if ev.Kind != busproto.EventWeather {
				t.Fatalf("got kind %v", ev.Kind)
			}
			events++
		default:
			drained = true
		}
	}
	if events < 2 {
		t.Fatalf("got %d weather events, want the immediate one plus at least one tick", events)
	}
}

func TestPollFailureDoesNotPublish(t *testing.T) {
	b := bus.New(0)
	conn := b.NewConnection("weather")
	src := &fakeSource{errs: []error{errors.New("sensor offline")}}
	d := New(conn, src)

	sub := b.NewConnection("watcher").Subscribe(EventTopic)
	d.poll(context.Background())

	select {
	case msg := <-sub.Channel():
		t.Fatalf("did not expect a publish after a failed poll, got %+v", msg)
	default:
	}
}

func TestPublishLastBeforeFirstPollIsNoop(t *testing.T) {
	b := bus.New(0)
	conn := b.NewConnection("weather")
	d := New(conn, &fakeSource{})

	sub := b.NewConnection("watcher").Subscribe(EventTopic)
	d.PublishLast()

	select {
	case msg := <-sub.Channel():
		t.Fatalf("expected no publish before any successful poll, got %+v", msg)
	default:
	}
}
