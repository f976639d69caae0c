package frames

import (
	"encoding/binary"
	"fmt"

	"github.com/Azure/go-amqp-transport/internal/buffer"
)

// Frame types in the outer envelope's "type" byte, spec §4.3.
const (
	TypeAMQP uint8 = 0x00
	TypeSASL uint8 = 0x01
)

const (
	// headerSize is the fixed portion of the envelope that always precedes
	// the (possibly extended) header: 4-byte size, 1-byte DOFF, 1-byte
	// type, 2-byte channel.
	headerSize = 8
	// MinFrameSize is the smallest legal frame: header only, no
	// performative (a heartbeat).
	MinFrameSize = 8
)

// FrameBody is implemented by every performative and SASL frame body.
// fields returns the performative's descriptor code and its ordered,
// spec-defined field list (nil entries mark an omitted optional field).
type FrameBody interface {
	frameBody()
	fields() (uint64, []any)
}

// Frame is a fully decoded AMQP or SASL frame: envelope fields plus the
// parsed performative and any trailing payload (Transfer's message bytes).
type Frame struct {
	Type    uint8
	Channel uint16
	Body    FrameBody
	Payload []byte
}

// Write encodes fr as a complete frame (header + performative + payload)
// onto wr.
func Write(wr *buffer.Buffer, fr Frame) error {
	if fr.Body == nil {
		// heartbeat: bare 8-byte header, size == 8.
		var hdr [headerSize]byte
		binary.BigEndian.PutUint32(hdr[0:4], headerSize)
		hdr[4] = 2 // DOFF in 4-byte words
		hdr[5] = fr.Type
		binary.BigEndian.PutUint16(hdr[6:8], fr.Channel)
		wr.Append(hdr[:])
		return nil
	}

	var body buffer.Buffer
	if err := MarshalBody(&body, fr.Body); err != nil {
		return err
	}

	size := headerSize + body.Len() + len(fr.Payload)
	if size > 0xFFFFFFFF {
		return fmt.Errorf("frames: frame size %d exceeds protocol maximum", size)
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(size))
	hdr[4] = 2
	hdr[5] = fr.Type
	binary.BigEndian.PutUint16(hdr[6:8], fr.Channel)

	wr.Append(hdr[:])
	wr.Append(body.Bytes())
	wr.Append(fr.Payload)
	return nil
}

// Read decodes the next complete frame from r. If r does not yet hold a
// full frame it returns ErrNeedMoreData, and the caller (the connection's
// read loop) buffers further reads from the transport. Read itself rejects
// a frame whose declared size exceeds a non-zero maxFrameSize.
func Read(r *buffer.Buffer, maxFrameSize uint32) (Frame, error) {
	hdr, err := r.Peek(headerSize)
	if err != nil {
		return Frame{}, ErrNeedMoreData
	}

	size := binary.BigEndian.Uint32(hdr[0:4])
	doff := hdr[4]
	typ := hdr[5]
	channel := binary.BigEndian.Uint16(hdr[6:8])

	if size < MinFrameSize {
		return Frame{}, fmt.Errorf("frames: frame size %d is less than the minimum of %d", size, MinFrameSize)
	}
	if maxFrameSize != 0 && size > maxFrameSize {
		return Frame{}, fmt.Errorf("frames: frame size %d exceeds negotiated max-frame-size %d", size, maxFrameSize)
	}
	if uint32(doff)*4 > size {
		return Frame{}, fmt.Errorf("frames: data offset %d*4 exceeds frame size %d", doff, size)
	}
	if uint32(doff) < 2 {
		return Frame{}, fmt.Errorf("frames: data offset %d is smaller than the minimum header", doff)
	}

	if r.Len() < int(size) {
		return Frame{}, ErrNeedMoreData
	}

	whole, _ := r.Next(int64(size))
	extOff := int(doff) * 4
	rest := whole[extOff:]

	fr := Frame{Type: typ, Channel: channel}
	if size == MinFrameSize {
		// empty frame: heartbeat, pass through undecoded.
		return fr, nil
	}

	body := buffer.New(append([]byte(nil), rest...))
	perf, consumed, err := UnmarshalBody(body)
	if err != nil {
		return Frame{}, err
	}
	fr.Body = perf
	if consumed < len(rest) {
		fr.Payload = append([]byte(nil), rest[consumed:]...)
	}
	return fr, nil
}

// ErrNeedMoreData signals the caller should read more bytes from the
// transport and retry; it is not a protocol error.
var ErrNeedMoreData = fmt.Errorf("frames: incomplete frame, need more data")
