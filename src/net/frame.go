package net

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds the payload of a single frame.
const DefaultMaxFrameSize = 4 << 20

const frameHeaderSize = 5

// writeFrame writes one frame without flushing.
func writeFrame(w *bufio.Writer, kind MessageKind, payload []byte) error {
	var header [frameHeaderSize]byte
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame. Payloads larger than maxSize are refused before
// anything is allocated.
func readFrame(r *bufio.Reader, maxSize uint32) (Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(header[1:])
	if size > maxSize {
		return Message{}, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}

	return Message{
		Kind:    MessageKind(header[0]),
		Payload: payload,
	}, nil
}
