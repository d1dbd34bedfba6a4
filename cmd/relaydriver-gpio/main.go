// Command relaydriver-gpio runs the GPIO variant of the relay driver
// (C6): it drives HVAC wires through directly wired GPIO output pins
// and serves set_hvacwire control requests over the network.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/config"
	"github.com/freeabode/thermocore/internal/metrics"
	"github.com/freeabode/thermocore/internal/relay"
	"github.com/freeabode/thermocore/internal/relaydriver"
	"github.com/freeabode/thermocore/internal/relaydriver/gpiorelay"
	"github.com/freeabode/thermocore/internal/security"
	"github.com/freeabode/thermocore/internal/z85"
)

var (
	configDir  = flag.String("config_dir", "/etc/thermocore", "directory holding fabd_cfg/")
	devID      = flag.String("device_id", "relay1", "this device's id in the config directory")
	serverName = flag.String("server_name", "control", "this device's server entry to bind, per the config directory")
	keyFile    = flag.String("keyfile", "", "path to this device's secret key file (required)")
	listenAddr = flag.String("listen", ":8014", "host:port for the /metrics and /status HTTP endpoints")
)

// wirePins lists the JSON config keys this binary reads for each wire's
// GPIO pin name, matching fabd_get_gpiod_line's json_gpios keys.
var wirePins = map[busproto.HVACWire]string{
	busproto.WireY1: "gpio_y1",
	busproto.WireY2: "gpio_y2",
	busproto.WireG:  "gpio_g",
	busproto.WireOB: "gpio_ob",
	busproto.WireW1: "gpio_w1",
	busproto.WireW2: "gpio_w2",
}

func main() {
	flag.Parse()
	if *keyFile == "" {
		log.Fatal("--keyfile is required")
	}

	dir, err := config.LoadDirectory(*configDir)
	if err != nil {
		log.Fatalf("loading config directory: %v", err)
	}
	if err := dir.LoadDevice(*devID); err != nil {
		log.Fatalf("loading device config for %s: %v", *devID, err)
	}
	binds, err := dir.Bind(*devID, *serverName)
	if err != nil {
		log.Fatalf("resolving bind addresses: %v", err)
	}

	var wires []gpiorelay.HVACWireConfig
	for wire, key := range wirePins {
		pin := dir.GetString(*devID, key)
		if pin == "" {
			continue
		}
		wires = append(wires, gpiorelay.HVACWireConfig{Wire: wire, PinName: pin})
	}
	if len(wires) == 0 {
		log.Fatalf("no GPIO pins configured for device %s (expected keys like gpio_y1)", *devID)
	}

	ctrl := relay.NewController()
	if err := gpiorelay.Bind(ctrl, wires); err != nil {
		log.Fatalf("binding GPIO pins: %v", err)
	}

	local, err := security.LoadKeyFile(*keyFile)
	if err != nil {
		log.Fatalf("loading key file: %v", err)
	}
	defer local.Close()
	authorityKey, err := loadAuthorityKey(dir, *devID)
	if err != nil {
		log.Fatalf("loading authority key: %v", err)
	}
	auth := &security.Authenticator{Authority: authorityKey}

	b := bus.New(64)
	conn := b.NewConnection("relaydriver-gpio")
	driver := relaydriver.New(conn, ctrl)
	driver.PublishSnapshot()

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

	go watchWireEvents(ctx, conn, status)
	go driver.ServeLocalControl(ctx)

	for _, addr := range binds {
		tcpAddr, ok := tcpListenAddr(addr)
		if !ok {
			log.Printf("skipping non-tcp bind address %q", addr)
			continue
		}
		go serveControlConn(ctx, tcpAddr, driver, local, auth)
	}

	<-ctx.Done()
}

// watchWireEvents keeps the status page and prometheus gauges current
// with every wire-change and snapshot event the driver publishes.
func watchWireEvents(ctx context.Context, conn *bus.Connection, status *metrics.Store) {
	sub := conn.Subscribe(relaydriver.EventTopic)
	defer conn.Unsubscribe(sub)
	wires := map[busproto.HVACWire]busproto.Tristate{}
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
			switch ev.Kind {
			case busproto.EventRelayChange:
				if ev.Relay == nil {
					continue
				}
				wires[ev.Relay.Wire] = ev.Relay.Value
				metrics.ObserveRelayChange(*ev.Relay)
			case busproto.EventSnapshot:
				for _, rc := range ev.Snapshot {
					wires[rc.Wire] = rc.Value
					metrics.ObserveRelayChange(rc)
				}
			default:
				continue
			}
			snap := status.Get()
			snap.Wires = snap.Wires[:0]
			for w, v := range wires {
				snap.Wires = append(snap.Wires, busproto.RelayChange{Wire: w, Value: v})
			}
			status.Set(snap)
		}
	}
}

// loadAuthorityKey reads the single operator key this device's control
// socket accepts, per the deployment's "authority_key" config entry.
func loadAuthorityKey(dir *config.Directory, devID string) ([security.KeySize]byte, error) {
	var out [security.KeySize]byte
	raw, err := z85.Decode(strings.TrimSpace(dir.GetString(devID, "authority_key")))
	if err != nil {
		return out, err
	}
	if len(raw) != security.KeySize {
		return out, fmt.Errorf("authority_key decodes to %d bytes, want %d", len(raw), security.KeySize)
	}
	copy(out[:], raw)
	return out, nil
}

func tcpListenAddr(uri string) (string, bool) {
	const prefix = "tcp://"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	addr := strings.TrimPrefix(uri, prefix)
	if strings.HasPrefix(addr, "*:") {
		addr = strings.TrimPrefix(addr, "*")
	}
	return addr, true
}

func serveControlConn(ctx context.Context, addr string, driver *relaydriver.Driver, local *security.Context, auth *security.Authenticator) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listening on %s: %v", addr, err)
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("accept on %s: %v", addr, err)
			continue
		}
		go func() {
			sc, err := bus.Accept(nc, local, auth)
			if err != nil {
				log.Printf("handshake with %s failed: %v", nc.RemoteAddr(), err)
				return
			}
			defer sc.Close()
			bus.ServeRequests(sc, driver.HandleRequest)
		}()
	}
}
