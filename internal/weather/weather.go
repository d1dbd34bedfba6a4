// Package weather implements the weather sensor driver (C7). Per
// spec.md this component is interface-only: the register-level protocol
// for any particular sensor chip is out of scope, so Source is the only
// contract a concrete sensor integration needs to satisfy. The polling
// cadence, event publishing and prometheus instrumentation below are
// grounded on internal/hm/thermal's WeatherEvent decode/publish pattern
// in the sibling BidCoS codebase, adapted from a push model (events
// arrive off the radio) to a pull model (a chip is polled).
package weather

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
)

// DefaultInterval is the default poll cadence, per spec §4.7 ("default
// ~21 s").
const DefaultInterval = 21 * time.Second

// EventTopic is where weather Events are published.
var EventTopic = bus.T("weather", "event")

// Source is the sensor-specific half a concrete integration supplies:
// one blocking read of the current outdoor conditions.
type Source interface {
	Read(ctx context.Context) (busproto.WeatherReading, error)
}

var (
	readingTemperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "weather",
		Name:      "temperature_centi_c",
		Help:      "Most recently published outdoor temperature, in hundredths of a degree Celsius.",
	})
	readingHumidity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "weather",
		Name:      "humidity_per_mille",
		Help:      "Most recently published outdoor humidity, in parts per thousand.",
	})
	pollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "thermocore",
		Subsystem: "weather",
		Name:      "poll_failures_total",
		Help:      "Number of sensor polls that returned an error.",
	})
)

func init() {
	prometheus.MustRegister(readingTemperature, readingHumidity, pollFailures)
}

// Driver polls Source at Interval and publishes an Event on each
// successful reading, retaining it so a late-joining subscriber
// immediately sees the last observed weather without waiting out a full
// poll interval.
type Driver struct {
	Conn     *bus.Connection
	Source   Source
	Interval time.Duration

	mu   sync.Mutex
	last *busproto.WeatherReading
}

// New creates a Driver with the default poll interval.
func New(conn *bus.Connection, src Source) *Driver {
	return &Driver{Conn: conn, Source: src, Interval: DefaultInterval}
}

// Run polls until ctx is cancelled. It publishes immediately on start (a
// fresh process has no retained reading yet to serve a late joiner) and
// then on every tick thereafter.
func (d *Driver) Run(ctx context.Context) error {
	if d.Interval <= 0 {
		d.Interval = DefaultInterval
	}
	d.poll(ctx)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Driver) poll(ctx context.Context) {
	r, err := d.Source.Read(ctx)
	if err != nil {
		pollFailures.Inc()
		log.Printf("weather: poll failed: %v", err)
		return
	}
	d.mu.Lock()
	d.last = &r
	d.mu.Unlock()
	d.publish(r)
}

func (d *Driver) publish(r busproto.WeatherReading) {
	readingTemperature.Set(float64(r.TemperatureCentiC))
	readingHumidity.Set(float64(r.HumidityPerMille))
	ev := &busproto.Event{Kind: busproto.EventWeather, Weather: &r}
	d.Conn.Publish(d.Conn.NewMessage(EventTopic, ev, true))
}

// PublishLast republishes the most recent reading, for explicit
// subscriber-join handling analogous to relaydriver.Driver.PublishSnapshot.
// It is a no-op before the first successful poll.
func (d *Driver) PublishLast() {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()
	if last == nil {
		return
	}
	d.publish(*last)
}
