package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single message to 16MiB, generous for an MCP
// tool-call/resource-read payload while still rejecting a corrupt
// length prefix before it tries to allocate gigabytes.
const maxFrameSize = 16 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by body,
// the wire framing spec.md §5 requires for every stream transport
// (TCP, stdio). WebSocket and HTTP carry one JSON message per frame/body
// and do not use this helper.
func writeFrame(w io.Writer, body []byte) error {
	if len(body) > maxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds max %d", len(body), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return body, nil
}
