package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleArray(t *testing.T) {
	buf := []byte("*2\r\n$4\r\nECHO\r\n$2\r\nhi\r\n")
	tokens, consumed, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	require.Len(t, tokens, 2)
	assert.Equal(t, "ECHO", string(tokens[0]))
	assert.Equal(t, "hi", string(tokens[1]))
}

func TestDecodeIncomplete(t *testing.T) {
	buf := []byte("*2\r\n$4\r\nECHO\r\n$2\r\nh")
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDecodeTwoCommandsConsumesOnlyFirst(t *testing.T) {
	buf := []byte("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n")
	tokens, consumed, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "PING", string(tokens[0]))
	assert.Less(t, consumed, len(buf))

	tokens2, consumed2, err := Decode(buf[consumed:])
	require.NoError(t, err)
	require.Len(t, tokens2, 1)
	assert.Equal(t, consumed, consumed2)
}

func TestDecodeProtocolErrors(t *testing.T) {
	cases := []string{
		"not-an-array\r\n",
		"*2\r\n+foo\r\n$2\r\nhi\r\n",
		"*1\r\n$3\r\nabXX\r\n",
	}
	for _, c := range cases {
		_, _, err := Decode([]byte(c))
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr)
	}
}

func TestDecodeNullArrayIsZeroTokens(t *testing.T) {
	tokens, consumed, err := Decode([]byte("*-1\r\n"))
	require.NoError(t, err)
	assert.Nil(t, tokens)
	assert.Equal(t, 5, consumed)
}

func TestEncoderBasics(t *testing.T) {
	var e Encoder
	e.WriteOK()
	assert.Equal(t, "+OK\r\n", string(e.Bytes()))

	e.Reset()
	e.WriteBulkStringStr("hello")
	assert.Equal(t, "$5\r\nhello\r\n", string(e.Bytes()))

	e.Reset()
	e.WriteNullBulk()
	assert.Equal(t, "$-1\r\n", string(e.Bytes()))

	e.Reset()
	e.WriteInteger(42)
	assert.Equal(t, ":42\r\n", string(e.Bytes()))

	e.Reset()
	e.WriteStringArray([]string{"a", "bb"})
	assert.Equal(t, "*2\r\n$1\r\na\r\n$2\r\nbb\r\n", string(e.Bytes()))
}
