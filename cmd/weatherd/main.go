// Command weatherd runs the weather sensor driver (C7). The
// chip-specific register sequence for any given sensor is out of scope
// (per spec.md's Non-goals), so this binary's Source implementation
// reads a JSON-encoded reading from a file on each poll — a stand-in
// for whatever updates that file (a cron job, a sibling process talking
// to a BME280/HTU21D over I2C, a test harness). Any real sensor
// integration satisfies internal/weather.Source the same way and can be
// substituted here without touching the driver itself.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/metrics"
	"github.com/freeabode/thermocore/internal/weather"
)

var (
	readingFile = flag.String("reading_file", "/run/thermocore/weather.json", "path to a JSON document with temperature_centi_c and humidity_per_mille fields")
	listenAddr  = flag.String("listen", ":8015", "host:port for the /metrics and /status HTTP endpoints")
)

// fileSource reads the latest sensor reading from a JSON file, per the
// package doc above.
type fileSource struct {
	path string
}

type fileReading struct {
	TemperatureCentiC int32 `json:"temperature_centi_c"`
	HumidityPerMille  int32 `json:"humidity_per_mille"`
}

func (s fileSource) Read(ctx context.Context) (busproto.WeatherReading, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return busproto.WeatherReading{}, fmt.Errorf("weatherd: reading %s: %w", s.path, err)
	}
	var r fileReading
	if err := json.Unmarshal(b, &r); err != nil {
		return busproto.WeatherReading{}, fmt.Errorf("weatherd: decoding %s: %w", s.path, err)
	}
	return busproto.WeatherReading{TemperatureCentiC: r.TemperatureCentiC, HumidityPerMille: r.HumidityPerMille}, nil
}

func main() {
	flag.Parse()

	b := bus.New(64)
	conn := b.NewConnection("weatherd")
	driver := weather.New(conn, fileSource{path: *readingFile})

	status := &metrics.Store{}
	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/status", status.Handler())
	go func() {
		if err := http.ListenAndServe(*listenAddr, nil); err != nil {
			log.Printf("status server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("weather driver exited: %v", err)
	}
}
