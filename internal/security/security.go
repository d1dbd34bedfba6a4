// Package security loads the process's long-term key pair and provides
// the CURVE-equivalent authenticated transport and ZAP-equivalent
// authorization check used by the bus substrate. It is grounded on
// security.c and zap.c: the key file format (32 raw bytes or 40-byte
// Z85 text), the mlock/zero discipline around the private scalar, and
// the exact two checks a ZAP handler performs (mechanism is CURVE, and
// the presented public key matches the configured authority key).
package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/sys/unix"

	"github.com/freeabode/thermocore/internal/z85"
)

// KeySize is the width of a curve25519 scalar or point, matching
// crypto_scalarmult's 32-byte keys.
const KeySize = 32

// Context holds one process's long-term key pair. It is created once
// per process (per spec.md's Design Notes prohibition on process-wide
// globals) and passed explicitly into every bus endpoint constructor.
type Context struct {
	privateKey [KeySize]byte
	PublicKey  [KeySize]byte

	// AuthorityKey holds a deployment's single authority public key.
	// Nothing in this module reads it: a server decides which peer to
	// accept from Authenticator.Authority, and Dial takes the server's
	// public key as an argument.
	AuthorityKey [KeySize]byte
}

// LoadKeyFile reads a private key from path, in either of the two
// formats load_freeabode_key accepts: 32 raw bytes, or 40 bytes of Z85
// text. The returned Context's PublicKey is derived via
// crypto_scalarmult_base's Go equivalent, curve25519.X25519 against the
// basepoint.
func LoadKeyFile(path string) (*Context, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security: reading key file: %w", err)
	}
	defer zero(raw)

	var priv []byte
	switch len(raw) {
	case KeySize:
		priv = raw
	case 40:
		decoded, err := z85.Decode(string(raw))
		if err != nil {
			return nil, fmt.Errorf("security: decoding z85 key: %w", err)
		}
		priv = decoded
	default:
		return nil, fmt.Errorf("security: key file %s has unexpected length %d (want %d raw or 40 z85)", path, len(raw), KeySize)
	}

	ctx := &Context{}
	copy(ctx.privateKey[:], priv)
	zero(priv)

	if err := ctx.lockPrivateKey(); err != nil {
		// mlock failing (e.g. no CAP_IPC_LOCK, or RLIMIT_MEMLOCK too
		// small) is not fatal: the key still works, it just may be
		// swappable. The original logs and continues; so do we.
		log.Printf("security: mlock of private key failed, continuing: %v", err)
	}

	pub, err := curve25519.X25519(ctx.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("security: deriving public key: %w", err)
	}
	copy(ctx.PublicKey[:], pub)
	return ctx, nil
}

// GenerateContext creates a fresh random key pair, for processes (tests,
// ephemeral CLI clients) that do not read a persisted secretkey file.
func GenerateContext() (*Context, error) {
	var priv [KeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("security: generating key: %w", err)
	}
	ctx := &Context{privateKey: priv}
	pub, err := curve25519.X25519(ctx.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(ctx.PublicKey[:], pub)
	return ctx, nil
}

func (c *Context) lockPrivateKey() error {
	return unix.Mlock(c.privateKey[:])
}

// Close unlocks and zeroes the private scalar. Callers that constructed
// a Context should defer Close.
func (c *Context) Close() error {
	zero(c.privateKey[:])
	return unix.Munlock(c.privateKey[:])
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Seal encrypts message for the peer identified by peerPublicKey using
// an ephemeral nonce, the Go analogue of a CURVE-secured ZMQ frame.
func (c *Context) Seal(message []byte, peerPublicKey [KeySize]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(nonce[:], message, &nonce, &peerPublicKey, &c.privateKey)
	return sealed, nil
}

// Open decrypts a message produced by Seal from peerPublicKey.
func (c *Context) Open(sealed []byte, peerPublicKey [KeySize]byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errors.New("security: sealed message shorter than nonce")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	opened, ok := box.Open(nil, sealed[24:], &nonce, &peerPublicKey, &c.privateKey)
	if !ok {
		return nil, errors.New("security: message failed to decrypt or authenticate")
	}
	return opened, nil
}

// Mechanism names the ZAP-equivalent authentication mechanism presented
// by a connecting peer. Only "CURVE" is ever accepted, matching
// zap_handler's strcmp(mechanism, "CURVE").
type Mechanism string

// MechanismCurve is the only mechanism this bus accepts.
const MechanismCurve Mechanism = "CURVE"

// AuthRequest is what a connecting peer presents for authorization.
type AuthRequest struct {
	RequestID string
	Mechanism Mechanism
	PublicKey [KeySize]byte
}

// AuthDecision is the ZAP-equivalent reply: StatusCode is "200" for
// accepted connections and "400" for rejected ones, matching the two
// codes zap_handler ever sends.
type AuthDecision struct {
	RequestID  string
	StatusCode string
}

// Authenticator performs the same two checks zap_handler does: the
// mechanism must be CURVE, and the presented key must equal the
// configured authority key.
type Authenticator struct {
	Authority [KeySize]byte
}

// Authorize evaluates req against the configured authority key.
func (a *Authenticator) Authorize(req AuthRequest) AuthDecision {
	if req.Mechanism != MechanismCurve {
		return AuthDecision{RequestID: req.RequestID, StatusCode: "400"}
	}
	if req.PublicKey != a.Authority {
		return AuthDecision{RequestID: req.RequestID, StatusCode: "400"}
	}
	return AuthDecision{RequestID: req.RequestID, StatusCode: "200"}
}
