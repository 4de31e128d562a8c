// Package host implements the host communications adapter (C10): the
// framing boundary between the runtime and the main application
// processor. The FlatBuffer-style message schema itself is treated as an
// opaque codec (spec §1); this package only implements the
// length-delimited frame and the tag/client-id/payload envelope around
// it, using protobuf's low-level wire primitives for the varint and
// length-delimited encoding rather than a hand-rolled one.
package host

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageTag identifies a ChreMessage variant (spec §6).
type MessageTag uint32

const (
	TagNanoappMessage MessageTag = iota + 1
	TagHubInfoRequest
	TagHubInfoResponse
	TagNanoappListRequest
	TagNanoappListResponse
	TagLoadNanoappRequest
	TagLoadNanoappResponse
	TagUnloadNanoappRequest
	TagUnloadNanoappResponse
	TagLogMessage
	TagTimeSyncRequest
	TagTimeSyncMessage
	TagDebugDumpRequest
	TagDebugDumpData
	TagDebugDumpResponse
)

// UnspecifiedHostEndpoint is the reserved endpoint value meaning
// "unspecified" (spec §6).
const UnspecifiedHostEndpoint uint16 = 0xfffe

// Envelope is a single MessageContainer: a loopback-assigned client id plus
// a tagged ChreMessage variant. Payload holds that variant's own encoding,
// opaque to this package.
type Envelope struct {
	ClientID uint16
	Tag      MessageTag
	Payload  []byte
}

// EncodeFrame appends a length-delimited frame for env to buf and returns
// the result. Frame layout: varint(body length), then body = varint(tag),
// varint(client_id), length-delimited payload bytes.
func EncodeFrame(buf []byte, env Envelope) []byte {
	var body []byte
	body = protowire.AppendVarint(body, uint64(env.Tag))
	body = protowire.AppendVarint(body, uint64(env.ClientID))
	body = protowire.AppendBytes(body, env.Payload)

	buf = protowire.AppendVarint(buf, uint64(len(body)))
	return append(buf, body...)
}

// WriteFrame writes a single frame for env to w.
func WriteFrame(w io.Writer, env Envelope) error {
	_, err := w.Write(EncodeFrame(nil, env))
	return err
}

// ReadFrame reads a single length-delimited frame from r and decodes its
// envelope. r must be a *bufio.Reader (or wrapped in one) so the varint
// length prefix can be read byte-by-byte without over-reading the body.
func ReadFrame(r *bufio.Reader) (Envelope, error) {
	length, err := readVarint(r)
	if err != nil {
		return Envelope{}, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("host: short frame body: %w", err)
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (Envelope, error) {
	tag, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return Envelope{}, fmt.Errorf("host: malformed tag: %w", protowire.ParseError(n))
	}
	body = body[n:]

	clientID, n := protowire.ConsumeVarint(body)
	if n < 0 {
		return Envelope{}, fmt.Errorf("host: malformed client id: %w", protowire.ParseError(n))
	}
	body = body[n:]

	payload, n := protowire.ConsumeBytes(body)
	if n < 0 {
		return Envelope{}, fmt.Errorf("host: malformed payload: %w", protowire.ParseError(n))
	}

	return Envelope{
		ClientID: uint16(clientID),
		Tag:      MessageTag(tag),
		Payload:  payload,
	}, nil
}

// readVarint reads a protobuf-style varint one byte at a time from r,
// which is the only way to bound reads on a streaming connection before
// the total frame length is known.
func readVarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf = append(buf, b)
		if b < 0x80 {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return 0, fmt.Errorf("host: malformed length varint: %w", protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("host: length varint too long")
}
