// Command thermostatd runs the thermostat controller (C8): it consumes
// weather readings from a weather driver's event stream, applies the
// heat/cool decision table, and drives a relay driver over the network
// control transport. It also serves get/set-goals requests of its own.
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
	"github.com/freeabode/thermocore/internal/security"
	"github.com/freeabode/thermocore/internal/thermostat"
	"github.com/freeabode/thermocore/internal/z85"
)

var (
	configDir     = flag.String("config_dir", "/etc/thermocore", "directory holding fabd_cfg/")
	devID         = flag.String("device_id", "tstat1", "this device's id in the config directory")
	relayClient   = flag.String("relay_client", "hwctl", "this device's client entry naming the relay driver, per the config directory")
	weatherClient = flag.String("weather_client", "weather", "this device's client entry naming the weather driver")
	serverName    = flag.String("server_name", "control", "this device's server entry to bind goal requests on")
	keyFile       = flag.String("keyfile", "", "path to this device's secret key file (required)")
	peerKey       = flag.String("relay_peer_key", "", "the relay driver's Z85-encoded public key (required)")
	weatherKey    = flag.String("weather_peer_key", "", "the weather driver's Z85-encoded public key (required)")
	listenAddr    = flag.String("listen", ":8016", "host:port for the /metrics and /status HTTP endpoints")
)

func main() {
	flag.Parse()
	if *keyFile == "" || *peerKey == "" || *weatherKey == "" {
		log.Fatal("--keyfile, --relay_peer_key and --weather_peer_key are required")
	}

	dir, err := config.LoadDirectory(*configDir)
	if err != nil {
		log.Fatalf("loading config directory: %v", err)
	}
	if err := dir.LoadDevice(*devID); err != nil {
		log.Fatalf("loading device config for %s: %v", *devID, err)
	}

	relayAddrs, err := dir.Connect(*devID, *relayClient)
	if err != nil {
		log.Fatalf("resolving relay driver address: %v", err)
	}
	weatherAddrs, err := dir.Connect(*devID, *weatherClient)
	if err != nil {
		log.Fatalf("resolving weather driver address: %v", err)
	}

	local, err := security.LoadKeyFile(*keyFile)
	if err != nil {
		log.Fatalf("loading key file: %v", err)
	}
	defer local.Close()

	relayKey, err := decodePeerKey(*peerKey)
	if err != nil {
		log.Fatalf("decoding --relay_peer_key: %v", err)
	}
	relaySC, err := dialTCP(relayAddrs, local, relayKey)
	if err != nil {
		log.Fatalf("dialing relay driver: %v", err)
	}
	defer relaySC.Close()

	weatherPeerKey, err := decodePeerKey(*weatherKey)
	if err != nil {
		log.Fatalf("decoding --weather_peer_key: %v", err)
	}
	weatherSC, err := dialTCP(weatherAddrs, local, weatherPeerKey)
	if err != nil {
		log.Fatalf("dialing weather driver: %v", err)
	}
	defer weatherSC.Close()

	goals := busproto.ControllerGoals{
		Mode:               mustParseMode(dir.GetString(*devID, "mode")),
		HeatSetpointCentiC: int32(dir.GetInt(*devID, "heat_setpoint_centi_c", 1900)),
		CoolSetpointCentiC: int32(dir.GetInt(*devID, "cool_setpoint_centi_c", 2400)),
		HysteresisCentiC:   int32(dir.GetInt(*devID, "hysteresis_centi_c", thermostat.DefaultHysteresisCentiC)),
	}

	b := bus.New(64)
	conn := b.NewConnection("thermostatd")
	ctrl := thermostat.New(conn, &thermostat.NetworkRelayClient{SC: relaySC}, goals)

	weatherEventTopic := bus.T("weather", "event")
	go bus.PublishEvents(conn, weatherSC, weatherEventTopic)
	status := &metrics.Store{}
	weatherCh := make(chan busproto.WeatherReading)
	go bridgeWeatherEvents(conn, weatherEventTopic, weatherCh, status)

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/status", status.Handler())
	go func() {
		if err := http.ListenAndServe(*listenAddr, nil); err != nil {
			log.Printf("status server: %v", err)
		}
	}()
	go watchGoalsEvents(conn, status)

	authorityKey, err := decodePeerKey(dir.GetString(*devID, "authority_key"))
	if err != nil {
		log.Fatalf("loading authority key: %v", err)
	}
	auth := &security.Authenticator{Authority: authorityKey}
	binds, err := dir.Bind(*devID, *serverName)
	if err != nil {
		log.Fatalf("resolving bind addresses: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, addr := range binds {
		tcpAddr, ok := tcpListenAddr(addr)
		if !ok {
			log.Printf("skipping non-tcp bind address %q", addr)
			continue
		}
		go serveGoalsConn(ctx, tcpAddr, ctrl, local, auth)
	}

	if err := ctrl.Run(ctx, weatherCh); err != nil && ctx.Err() == nil {
		log.Fatalf("thermostat controller exited: %v", err)
	}
}

// watchGoalsEvents keeps the status page and prometheus gauges current
// with the controller's own retained goals events.
func watchGoalsEvents(conn *bus.Connection, status *metrics.Store) {
	sub := conn.Subscribe(thermostat.EventTopic)
	defer conn.Unsubscribe(sub)
	for msg := range sub.Channel() {
		reply, ok := msg.Payload.(*busproto.RequestReply)
		if !ok || reply.Goals == nil {
			continue
		}
		metrics.ObserveGoals(*reply.Goals)
		snap := status.Get()
		snap.Goals = *reply.Goals
		status.Set(snap)
	}
}

func mustParseMode(name string) busproto.ControllerMode {
	if name == "" {
		return busproto.ModeOff
	}
	mode, err := busproto.ParseControllerMode(name)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return mode
}

// bridgeWeatherEvents subscribes to topic on conn and forwards every
// Event carrying a weather reading onto ch, translating the retained
// pub/sub event stream into the plain channel thermostat.Controller.Run
// expects.
func bridgeWeatherEvents(conn *bus.Connection, topic bus.Topic, ch chan<- busproto.WeatherReading, status *metrics.Store) {
	sub := conn.Subscribe(topic)
	defer conn.Unsubscribe(sub)
	for msg := range sub.Channel() {
		ev, ok := msg.Payload.(*busproto.Event)
		if !ok || ev.Weather == nil {
			continue
		}
		snap := status.Get()
		snap.Weather = ev.Weather
		status.Set(snap)
		ch <- *ev.Weather
	}
}

func decodePeerKey(z85Key string) ([security.KeySize]byte, error) {
	var out [security.KeySize]byte
	raw, err := z85.Decode(strings.TrimSpace(z85Key))
	if err != nil {
		return out, err
	}
	if len(raw) != security.KeySize {
		return out, fmt.Errorf("peer key decodes to %d bytes, want %d", len(raw), security.KeySize)
	}
	copy(out[:], raw)
	return out, nil
}

func dialTCP(addrs []string, local *security.Context, peerKey [security.KeySize]byte) (*bus.SecureConn, error) {
	var lastErr error
	for _, addr := range addrs {
		tcpAddr, ok := tcpListenAddr(addr)
		if !ok {
			continue
		}
		sc, err := bus.Dial("tcp", tcpAddr, local, peerKey)
		if err == nil {
			return sc, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = net.UnknownNetworkError("no tcp address among: " + strings.Join(addrs, ", "))
	}
	return nil, lastErr
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

func serveGoalsConn(ctx context.Context, addr string, ctrl *thermostat.Controller, local *security.Context, auth *security.Authenticator) {
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
			bus.ServeRequests(sc, ctrl.HandleRequest)
		}()
	}
}
