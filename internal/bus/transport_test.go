package bus

import (
	"net"
	"testing"
	"time"

	"github.com/freeabode/thermocore/internal/security"
)

func TestDialAcceptHandshakeAndSecureRoundTrip(t *testing.T) {
	serverCtx, err := security.GenerateContext()
	if err != nil {
		t.Fatal(err)
	}
	clientCtx, err := security.GenerateContext()
	if err != nil {
		t.Fatal(err)
	}
	auth := &security.Authenticator{Authority: clientCtx.PublicKey}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	serverDone := make(chan *SecureConn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			t.Error(err)
			return
		}
		sc, err := Accept(conn, serverCtx, auth)
		if err != nil {
			t.Error(err)
			return
		}
		serverDone <- sc
	}()

	clientConn, err := Dial("tcp", ln.Addr().String(), clientCtx, serverCtx.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	var serverConn *SecureConn
	select {
	case serverConn = <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("server side of handshake never completed")
	}
	defer serverConn.Close()

	if err := clientConn.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := serverConn.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestDialRejectedByWrongAuthority(t *testing.T) {
	serverCtx, _ := security.GenerateContext()
	clientCtx, _ := security.GenerateContext()
	someoneElse, _ := security.GenerateContext()
	auth := &security.Authenticator{Authority: someoneElse.PublicKey}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		Accept(conn, serverCtx, auth)
	}()

	_, err = Dial("tcp", ln.Addr().String(), clientCtx, serverCtx.PublicKey)
	if err == nil {
		t.Fatal("expected Dial to fail for an unauthorized client key")
	}
}
