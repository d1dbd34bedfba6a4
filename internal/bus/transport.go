package bus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/freeabode/thermocore/internal/security"
)

// maxFrameLen bounds a single frame so a corrupt or hostile peer cannot
// make a length prefix request an unbounded allocation.
const maxFrameLen = 1 << 20

// WriteFrame writes b as a single length-prefixed frame.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > maxFrameLen {
		return fmt.Errorf("bus: frame of %d bytes exceeds limit %d", len(b), maxFrameLen)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("bus: peer announced frame of %d bytes, exceeds limit %d", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// handshakeHello is the ZAP-equivalent cleartext opening frame: the
// connecting peer states its mechanism and presents its public key.
// (Real CURVE additionally does an authenticated Diffie-Hellman
// exchange of short-term keys; this reimplementation uses the long-term
// key directly, which is sufficient for the single-authority-key
// deployment model fabdcfg.c describes and keeps the handshake a single
// round trip.)
type handshakeHello struct {
	RequestID string            `json:"request_id"`
	Mechanism security.Mechanism `json:"mechanism"`
	PublicKey [security.KeySize]byte `json:"public_key"`
}

type handshakeReply struct {
	RequestID  string `json:"request_id"`
	StatusCode string `json:"status_code"`
}

// SecureConn is an authenticated, encrypted connection between two
// thermocore processes, carrying busproto messages sealed with
// nacl/box.
type SecureConn struct {
	conn      net.Conn
	local     *security.Context
	PeerKey   [security.KeySize]byte
}

// Close closes the underlying connection.
func (c *SecureConn) Close() error { return c.conn.Close() }

// Send seals and writes payload.
func (c *SecureConn) Send(payload []byte) error {
	sealed, err := c.local.Seal(payload, c.PeerKey)
	if err != nil {
		return err
	}
	return WriteFrame(c.conn, sealed)
}

// Recv reads and opens the next frame.
func (c *SecureConn) Recv() ([]byte, error) {
	sealed, err := ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return c.local.Open(sealed, c.PeerKey)
}

// Dial connects to addr and performs the client side of the
// ZAP-equivalent handshake, verifying the server accepted our key
// before returning. serverKey is the server's known public key; the
// cmd/ tools take it from a Z85-encoded command-line flag.
func Dial(network, addr string, local *security.Context, serverKey [security.KeySize]byte) (*SecureConn, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}
	hello := handshakeHello{RequestID: "1", Mechanism: security.MechanismCurve, PublicKey: local.PublicKey}
	b, err := json.Marshal(hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := WriteFrame(conn, b); err != nil {
		conn.Close()
		return nil, err
	}
	rb, err := ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var reply handshakeReply
	if err := json.Unmarshal(rb, &reply); err != nil {
		conn.Close()
		return nil, err
	}
	if reply.StatusCode != "200" {
		conn.Close()
		return nil, fmt.Errorf("bus: server rejected our key (status %s)", reply.StatusCode)
	}
	return &SecureConn{conn: conn, local: local, PeerKey: serverKey}, nil
}

// Accept performs the server side of the handshake on an already
// accepted net.Conn, consulting auth to decide whether to admit the
// peer. On rejection, Accept sends the 400 decision and closes conn
// itself before returning an error.
func Accept(conn net.Conn, local *security.Context, auth *security.Authenticator) (*SecureConn, error) {
	hb, err := ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var hello handshakeHello
	if err := json.Unmarshal(hb, &hello); err != nil {
		conn.Close()
		return nil, err
	}
	decision := auth.Authorize(security.AuthRequest{
		RequestID: hello.RequestID,
		Mechanism: hello.Mechanism,
		PublicKey: hello.PublicKey,
	})
	rb, err := json.Marshal(handshakeReply{RequestID: decision.RequestID, StatusCode: decision.StatusCode})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := WriteFrame(conn, rb); err != nil {
		conn.Close()
		return nil, err
	}
	if decision.StatusCode != "200" {
		conn.Close()
		return nil, fmt.Errorf("bus: rejected peer presenting key %x", hello.PublicKey)
	}
	return &SecureConn{conn: conn, local: local, PeerKey: hello.PublicKey}, nil
}
