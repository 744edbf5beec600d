package agent

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// The agent protocol frames every message with a 4-byte big-endian
// length prefix counting the payload bytes that follow it. This layer
// never looks at the payload itself.

// EncodeMessage frames payload into a complete on-wire message.
func EncodeMessage(payload []byte) []byte {
	message := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(message, uint32(len(payload)))
	copy(message[4:], payload)
	return message
}

// MessagePayload returns the payload of a complete message.
func MessagePayload(message []byte) []byte {
	return message[4:MessageLength(message)]
}

// MessageLength returns the total on-wire size declared by the first
// 4 bytes of buf, including the length prefix itself. buf must hold
// at least 4 bytes.
func MessageLength(buf []byte) int {
	return int(binary.BigEndian.Uint32(buf[0:4])) + 4
}

// SerializeChildFlags renders the pipe connector startup flags as the
// fixed-width decimal argument the connector expects.
func SerializeChildFlags(flags uint32) string {
	return fmt.Sprintf("%08d", flags)
}

// ParseChildFlags is the inverse of SerializeChildFlags.
func ParseChildFlags(arg string) (uint32, error) {
	if len(arg) != 8 {
		return 0, fmt.Errorf("flag word %q is not 8 characters", arg)
	}
	value, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad flag word %q: %w", arg, err)
	}
	return uint32(value), nil
}
