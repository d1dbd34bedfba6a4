// Package backplate implements the Nest-Backplate serial protocol
// engine (C4): a framed, CRC-protected binary protocol carried over a
// UART, with an incremental parser that resyncs after corruption, and
// the relay-control/weather/power subset of its message set.
//
// Framing and decoding are a close translation of uartgw's read loop
// (internal/uartgw/uartgw.go in this codebase's sibling BidCoS driver)
// generalised from that protocol's escape-byte framing to the
// backplate's sync-byte framing, and of nbp/nest.h's message type
// table.
package backplate

import (
	"encoding/binary"
	"fmt"

	"github.com/freeabode/thermocore/internal/byteseq"
	"github.com/freeabode/thermocore/internal/crc16ccitt"
)

// MessageType identifies a backplate message, matching
// nbp_message_type in the original protocol header exactly.
type MessageType uint16

const (
	MsgLog             MessageType = 0x0001
	MsgWeather         MessageType = 0x0002
	MsgFetPresence     MessageType = 0x0004
	MsgPowerStatus     MessageType = 0x000b
	MsgFetControl      MessageType = 0x0082
	MsgReqPeriodic     MessageType = 0x0083
	MsgFetPresenceAck  MessageType = 0x008f
	MsgReset           MessageType = 0x00ff
)

func (t MessageType) String() string {
	switch t {
	case MsgLog:
		return "Log"
	case MsgWeather:
		return "Weather"
	case MsgFetPresence:
		return "FetPresence"
	case MsgPowerStatus:
		return "PowerStatus"
	case MsgFetControl:
		return "FetControl"
	case MsgReqPeriodic:
		return "ReqPeriodic"
	case MsgFetPresenceAck:
		return "FetPresenceAck"
	case MsgReset:
		return "Reset"
	default:
		return fmt.Sprintf("MessageType(%#04x)", uint16(t))
	}
}

// sync is the 3-byte frame header every backplate message begins with.
var sync = [3]byte{0xd5, 0xaa, 0x96}

// headerLen is sync(3) + type(2) + length(2); frameOverhead additionally
// counts the trailing CRC(2), giving the minimum frame size of 9 bytes
// used to decide whether a full frame might be present (§4.4 step 1).
const (
	headerLen    = 7
	frameOverhead = headerLen + 2
)

// Frame is a decoded backplate message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Encode builds the wire bytes for a frame: sync, type, length, payload,
// CRC-16 over (type ‖ length ‖ payload).
func Encode(typ MessageType, payload []byte) []byte {
	body := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint16(body[0:2], uint16(typ))
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(payload)))
	copy(body[4:], payload)

	out := make([]byte, 0, 3+len(body)+2)
	out = append(out, sync[:]...)
	out = append(out, body...)
	sum := crc16ccitt.Checksum(body)
	out = append(out, byte(sum), byte(sum>>8))
	return out
}

// Reader incrementally decodes frames from a byte stream, resyncing
// past corruption as described in §4.4's receive algorithm.
type Reader struct {
	buf byteseq.Buffer
}

// Feed appends newly read bytes to the reader's internal buffer.
func (r *Reader) Feed(p []byte) {
	r.buf.Append(p)
}

// Next attempts to decode one complete frame from the buffered bytes.
// It returns (frame, true, nil) when a frame was decoded and consumed,
// (nil, false, nil) when more input is needed, and a non-nil error only
// for conditions the caller cannot recover from by feeding more bytes
// (there are none currently — corrupt frames are consumed silently per
// the protocol error taxonomy, not surfaced as errors).
func (r *Reader) Next() (*Frame, bool, error) {
	for {
		if r.buf.Len() < frameOverhead {
			return nil, false, nil
		}
		b := r.buf.Bytes()
		if b[0] != sync[0] || b[1] != sync[1] || b[2] != sync[2] {
			idx := r.buf.Find([]byte{sync[0]}, 1)
			if idx < 0 {
				r.buf.Reset()
				return nil, false, nil
			}
			r.buf.Shift(idx)
			continue
		}

		length := int(binary.LittleEndian.Uint16(b[5:7]))
		total := frameOverhead + length
		if r.buf.Len() < total {
			return nil, false, nil
		}

		body := b[3 : 3+4+length]
		trailer := b[3+4+length : total]
		want := crc16ccitt.Checksum(body)
		got := binary.LittleEndian.Uint16(trailer)
		if got != want {
			// Corrupt frame: discard the leading sync byte only and
			// rescan, matching "advance past the first byte and
			// rescan" rather than discarding the whole candidate
			// frame, so a false sync match doesn't eat real data that
			// follows it.
			r.buf.Shift(1)
			continue
		}

		typ := MessageType(binary.LittleEndian.Uint16(body[0:2]))
		payload := append([]byte(nil), body[4:]...)
		r.buf.Shift(total)
		return &Frame{Type: typ, Payload: payload}, true, nil
	}
}
