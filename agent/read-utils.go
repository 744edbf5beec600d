package agent

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrMessageTooLarge = errors.New("can't read agent message, it exceeds the maximum message size")
	ErrDesynchronized  = errors.New("received more bytes than the agent message declares")
)

// ReadAgentMessage assembles exactly one framed agent message from r
// into buf, tolerating arbitrary fragmentation of the byte stream. It
// returns the total message size. A message whose declared size
// exceeds len(buf) fails with ErrMessageTooLarge before any payload
// past the prefix is consumed beyond what r already delivered.
func ReadAgentMessage(r io.Reader, buf []byte) (n int, err error) {
	var bytesRead = 0
	var messageSize = len(buf)
	var messageSizeParsed = false

	for bytesRead < messageSize {
		n, err := r.Read(buf[bytesRead:messageSize])
		if n == 0 && err != nil {
			if bytesRead > 0 && errors.Is(err, io.EOF) {
				// the peer went away in the middle of a message
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}

		bytesRead += n

		// Update messageSize once enough bytes are received to read
		// the message length
		if bytesRead >= 4 && !messageSizeParsed {
			// Add 4 bytes for the length field itself
			messageSize = int(binary.BigEndian.Uint32(buf[0:4])) + 4
			if messageSize > len(buf) {
				return 0, ErrMessageTooLarge
			}
			messageSizeParsed = true

			// A read that went past the declared end means the
			// stream no longer lines up with message boundaries.
			if bytesRead > messageSize {
				return 0, ErrDesynchronized
			}
		}
	}

	return bytesRead, nil
}
