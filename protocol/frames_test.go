package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	typ, err := DecodeEnvelope([]byte(`{"type":"user_input","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeUserInput, typ)
}

func TestDecodeEnvelopeMissingType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"text":"hi"}`))
	assert.Error(t, err)
}

func TestDecodeEnvelopeInvalidJSON(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestPadPCMEven(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	out := PadPCM(in)
	assert.Equal(t, in, out)
}

func TestPadPCMOdd(t *testing.T) {
	in := []byte{1, 2, 3}
	out := PadPCM(in)
	assert.Equal(t, []byte{1, 2, 3, 0}, out)
	assert.Equal(t, []byte{1, 2, 3}, in, "input must not be mutated")
}
