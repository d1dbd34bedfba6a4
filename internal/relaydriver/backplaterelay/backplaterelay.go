// Package backplaterelay is the backplate variant of the relay driver
// (C6): it drives HVAC wires through a Nest-Backplate UART connection
// instead of raw GPIO, additionally running the periodic-request timer
// and weather/power event publishing the backplate protocol carries
// alongside relay control.
package backplaterelay

import (
	"context"
	"io"
	"time"

	"github.com/freeabode/thermocore/internal/backplate"
	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/relaydriver"
)

// DefaultPeriodicInterval is how often ReqPeriodic is sent to the
// backplate, per spec §4.6 ("default 30 s").
const DefaultPeriodicInterval = 30 * time.Second

// Relay wraps a backplate.Device as a relaydriver.Driver, publishing
// weather and power events alongside the shared wire-change/control
// handling, and driving the periodic-request timer.
type Relay struct {
	Device *backplate.Device
	Driver *relaydriver.Driver

	PeriodicInterval time.Duration
}

type sink struct {
	conn *bus.Connection
}

var (
	weatherTopic = bus.T("weather", "event")
	powerTopic   = bus.T("power", "event")
)

func (s sink) OnLog(text string) {
	// Backplate log lines are diagnostic only; nothing downstream
	// consumes them as structured events, so they are not republished on
	// the bus. A real deployment would route these through the ambient
	// logger instead, which device.go already does via log.Printf for
	// decode failures; plain Log messages are dropped here deliberately.
	_ = text
}

func (s sink) OnWeather(r busproto.WeatherReading) {
	ev := &busproto.Event{Kind: busproto.EventWeather, Weather: &r}
	s.conn.Publish(s.conn.NewMessage(weatherTopic, ev, true))
}

func (s sink) OnPowerStatus(p busproto.PowerStatus) {
	ev := &busproto.Event{Kind: busproto.EventPower, Power: &p}
	s.conn.Publish(s.conn.NewMessage(powerTopic, ev, true))
}

// New opens a Relay over an already-configured serial connection (see
// internal/serial for termios setup) and a bus Connection to publish
// events on and serve control requests through.
func New(rw io.ReadWriter, conn *bus.Connection) *Relay {
	dev := backplate.NewDevice(rw, sink{conn: conn})
	return &Relay{
		Device:           dev,
		Driver:           relaydriver.New(conn, dev.Relay),
		PeriodicInterval: DefaultPeriodicInterval,
	}
}

// Run drives the main loop described in spec §4.6 for the backplate
// variant: serve control requests, run the periodic-request timer, and
// drain the UART whenever poll says it's readable. readable is supplied
// by the caller (typically backed by unix.Poll on the serial fd) so this
// package stays free of raw file-descriptor handling.
func (r *Relay) Run(ctx context.Context, readable <-chan struct{}) error {
	go r.Driver.ServeLocalControl(ctx)

	ticker := time.NewTicker(r.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Device.RequestPeriodic(); err != nil {
				return err
			}
		case <-readable:
			if _, err := r.Device.ReadAvailable(); err != nil {
				return err
			}
		}
	}
}
