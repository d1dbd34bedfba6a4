// Command hvacset is a specialised remote-control tool: given a wire
// name, a 0/1 state, and a server address, it builds a single-entry
// SetHVACWire request and exits 0 if the server reports success for
// that wire, 1 otherwise.
package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/security"
	"github.com/freeabode/thermocore/internal/z85"
)

var (
	addr    = flag.String("addr", "", "relay driver control address to connect to, host:port (required)")
	keyFile = flag.String("keyfile", "", "path to this client's secret key file (required)")
	peerKey = flag.String("peer-key", "", "the relay driver's Z85-encoded public key (required)")
)

func run() int {
	flag.Parse()
	args := flag.Args()
	if *addr == "" || *keyFile == "" || *peerKey == "" || len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hvacset --addr=host:port --keyfile=... --peer-key=... WIRE 0|1")
		return 1
	}

	wire, err := busproto.ParseHVACWire(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hvacset: %v\n", err)
		return 1
	}
	var value busproto.Tristate
	switch args[1] {
	case "1":
		value = busproto.On
	case "0":
		value = busproto.Off
	default:
		fmt.Fprintf(os.Stderr, "hvacset: state must be 0 or 1, got %q\n", args[1])
		return 1
	}

	local, err := security.LoadKeyFile(*keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hvacset: loading key file: %v\n", err)
		return 1
	}
	defer local.Close()

	peerRaw, err := z85.Decode(strings.TrimSpace(*peerKey))
	if err != nil || len(peerRaw) != security.KeySize {
		fmt.Fprintf(os.Stderr, "hvacset: decoding --peer-key: %v\n", err)
		return 1
	}
	var serverKey [security.KeySize]byte
	copy(serverKey[:], peerRaw)

	sc, err := bus.Dial("tcp", *addr, local, serverKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hvacset: %v\n", err)
		return 1
	}
	defer sc.Close()

	req := &busproto.Request{
		Kind:    busproto.RequestSetHVACWire,
		SetWire: []busproto.RelayChange{{Wire: wire, Value: value}},
	}
	reply, err := bus.SendRequest(sc, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hvacset: request failed: %v\n", err)
		return 1
	}
	if len(reply.SetHVACWireSuccess) != 1 || !reply.SetHVACWireSuccess[0] {
		fmt.Fprintf(os.Stderr, "hvacset: server refused to set %s\n", wire)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
