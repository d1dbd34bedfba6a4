// Command fabdctl is a generic diagnostic tool: it reads a bus URI and
// a JSON document, converts the JSON into a busproto.Request, sends it
// over a secured connection, and pretty-prints the RequestReply as
// JSON. Exit codes: 0 on success, 1 on usage or conversion error.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/freeabode/thermocore/internal/bus"
	"github.com/freeabode/thermocore/internal/busproto"
	"github.com/freeabode/thermocore/internal/security"
	"github.com/freeabode/thermocore/internal/z85"
)

var (
	addr     = flag.String("addr", "", "bus control address to connect to, host:port (required)")
	keyFile  = flag.String("keyfile", "", "path to this client's secret key file (required)")
	peerKey  = flag.String("peer-key", "", "the server's Z85-encoded public key (required)")
	document = flag.String("request", "-", "path to the JSON request document, or - to read stdin")
)

func run() int {
	flag.Parse()
	if *addr == "" || *keyFile == "" || *peerKey == "" {
		fmt.Fprintln(os.Stderr, "fabdctl: --addr, --keyfile and --peer-key are required")
		return 1
	}

	var raw []byte
	var err error
	if *document == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*document)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: reading request document: %v\n", err)
		return 1
	}

	req, err := busproto.RequestFromJSON(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: %v\n", err)
		return 1
	}

	local, err := security.LoadKeyFile(*keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: loading key file: %v\n", err)
		return 1
	}
	defer local.Close()

	peerRaw, err := z85.Decode(strings.TrimSpace(*peerKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: decoding --peer-key: %v\n", err)
		return 1
	}
	if len(peerRaw) != security.KeySize {
		fmt.Fprintf(os.Stderr, "fabdctl: --peer-key decodes to %d bytes, want %d\n", len(peerRaw), security.KeySize)
		return 1
	}
	var serverKey [security.KeySize]byte
	copy(serverKey[:], peerRaw)

	sc, err := bus.Dial("tcp", *addr, local, serverKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: %v\n", err)
		return 1
	}
	defer sc.Close()

	reply, err := bus.SendRequest(sc, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: request failed: %v\n", err)
		return 1
	}

	out, err := busproto.RequestReplyToJSON(reply)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabdctl: rendering reply: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func main() {
	os.Exit(run())
}
