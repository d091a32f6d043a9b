package ibkr

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxFrameSize bounds a single inbound message.
const maxFrameSize = 16 << 20

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// encodeFields joins fields as NUL-terminated strings.
func encodeFields(fields ...string) []byte {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteByte(0)
	}
	return []byte(b.String())
}

// frame prefixes payload with its 4-byte big-endian length.
func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// encodeMessage builds a complete framed message from fields.
func encodeMessage(fields ...string) []byte {
	return frame(encodeFields(fields...))
}

// handshakePrefix builds the "API\0" greeting followed by the framed version range.
func handshakePrefix(minVersion, maxVersion int) []byte {
	versions := fmt.Sprintf("v%d..%d", minVersion, maxVersion)
	return append([]byte("API\x00"), frame([]byte(versions))...)
}

// readFrame reads one length-prefixed message and splits it into fields.
func readFrame(r *bufio.Reader) ([]string, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return decodeFields(payload), nil
}

// decodeFields splits a payload on NUL terminators. A trailing terminator does not
// produce an empty final field.
func decodeFields(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(payload), "\x00")
	return strings.Split(s, "\x00")
}
