// Command relaydriver-backplate runs the backplate variant of the relay
// driver (C6): it owns one Nest-Backplate UART connection, serves
// set_hvacwire control requests over the network, and republishes
// decoded weather/power events and wire changes on its event topic.
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
	"time"

	"golang.org/x/sys/unix"
	flag "github.com/spf13/pflag"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/config"
	"github.com/freeabode/thermocore/internal/metrics"
	"github.com/freeabode/thermocore/internal/relaydriver"
	"github.com/freeabode/thermocore/internal/relaydriver/backplaterelay"
	"github.com/freeabode/thermocore/internal/security"
	"github.com/freeabode/thermocore/internal/serial"
	"github.com/freeabode/thermocore/internal/z85"
)

var (
	configDir  = flag.String("config_dir", "/etc/thermocore", "directory holding fabd_cfg/")
	devID      = flag.String("device_id", "relay1", "this device's id in the config directory")
	serverName = flag.String("server_name", "control", "this device's server entry to bind, per the config directory")
	serialPort = flag.String("serial_port", "/dev/ttyAMA0", "path to the backplate UART")
	keyFile    = flag.String("keyfile", "", "path to this device's secret key file (required)")
	listenAddr = flag.String("listen", ":8014", "host:port for the /metrics and /status HTTP endpoints")
)

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

	log.Printf("opening serial port %s", *serialPort)
	uart, err := os.OpenFile(*serialPort, os.O_EXCL|os.O_RDWR|unix.O_NOCTTY, 0600)
	if err != nil {
		log.Fatal(err)
	}
	if err := serial.Configure(uart.Fd()); err != nil {
		log.Fatal(err)
	}

	b := bus.New(64)
	conn := b.NewConnection("relaydriver-backplate")
	relay := backplaterelay.New(uart, conn)

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

	readable := make(chan struct{})
	go pollReadable(ctx, uart, readable)
	go watchEvents(ctx, conn, status)

	for _, addr := range binds {
		tcpAddr, ok := tcpListenAddr(addr)
		if !ok {
			log.Printf("skipping non-tcp bind address %q", addr)
			continue
		}
		go serveControlConn(ctx, tcpAddr, relay, local, auth)
	}

	if err := relay.Run(ctx, readable); err != nil && ctx.Err() == nil {
		log.Fatalf("relay main loop exited: %v", err)
	}
}

// watchEvents keeps the status page and prometheus gauges current with
// every wire-change and weather event the driver publishes; power-status
// events are not tracked here.
func watchEvents(ctx context.Context, conn *bus.Connection, status *metrics.Store) {
	wireSub := conn.Subscribe(relaydriver.EventTopic)
	defer conn.Unsubscribe(wireSub)
	weatherSub := conn.Subscribe(bus.T("weather", "event"))
	defer conn.Unsubscribe(weatherSub)

	wires := map[busproto.HVACWire]busproto.Tristate{}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-wireSub.Channel():
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
		case msg, ok := <-weatherSub.Channel():
			if !ok {
				return
			}
			ev, ok := msg.Payload.(*busproto.Event)
			if !ok || ev.Weather == nil {
				continue
			}
			snap := status.Get()
			snap.Weather = ev.Weather
			status.Set(snap)
		}
	}
}

// loadAuthorityKey reads the single operator key this device's control
// socket accepts, per the deployment's "authority_key" config entry
// (a Z85-encoded public key, the same one fabdctl/hvacset present).
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

// tcpListenAddr converts a config directory bind entry such as
// "tcp://*:2930" into a net.Listen address ("0.0.0.0:2930"), or reports
// ok=false for schemes this driver doesn't serve over (ipc:// is meant
// for same-host clients using a different transport than this binary
// implements).
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

// pollReadable signals readable whenever the UART fd has data waiting,
// so backplaterelay.Relay.Run stays free of raw fd polling.
func pollReadable(ctx context.Context, f *os.File, readable chan<- struct{}) {
	fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLIN}}
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := unix.Poll(fds, 500)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Printf("polling UART: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if n > 0 {
			select {
			case readable <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// serveControlConn accepts connections on addr and serves both the
// control-request and event-subscription halves of the network
// transport, until ctx is cancelled.
func serveControlConn(ctx context.Context, addr string, relay *backplaterelay.Relay, local *security.Context, auth *security.Authenticator) {
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
			bus.ServeRequests(sc, relay.Driver.HandleRequest)
		}()
	}
}
