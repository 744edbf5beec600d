package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x01},
		{0x0b, 0xde, 0xad, 0xbe, 0xef},
		make([]byte, MAX_AGENT_MESSAGE_SIZE-4),
	}

	for _, payload := range payloads {
		message := EncodeMessage(payload)
		require.Equal(t, len(payload)+4, len(message))
		require.Equal(t, len(message), MessageLength(message))
		assert.Equal(t, payload, MessagePayload(message))
	}
}

func TestMessageLength(t *testing.T) {
	assert.Equal(t, 9, MessageLength([]byte{0x00, 0x00, 0x00, 0x05, 0x01}))
	assert.Equal(t, 4, MessageLength([]byte{0x00, 0x00, 0x00, 0x00}))
}

func TestAgentMessageErrorReply(t *testing.T) {
	// the canonical SSH_AGENT_FAILURE message
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x05}, AGENT_MESSAGE_ERROR_REPLY.Data)
	assert.Equal(t, len(AGENT_MESSAGE_ERROR_REPLY.Data), MessageLength(AGENT_MESSAGE_ERROR_REPLY.Data))
}

func TestChildFlagsRoundTrip(t *testing.T) {
	for _, flags := range []uint32{0, ChildFlagDebug} {
		arg := SerializeChildFlags(flags)
		require.Len(t, arg, 8)

		parsed, err := ParseChildFlags(arg)
		require.NoError(t, err)
		assert.Equal(t, flags, parsed)
	}
}

func TestParseChildFlagsRejectsGarbage(t *testing.T) {
	_, err := ParseChildFlags("1")
	assert.Error(t, err)

	_, err = ParseChildFlags("deadbeef")
	assert.Error(t, err)
}
