package host

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	env := Envelope{ClientID: 7, Tag: TagNanoappMessage, Payload: []byte("hello")}
	encoded := EncodeFrame(nil, env)

	got, err := ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestReadFrameMultipleMessages(t *testing.T) {
	var buf []byte
	buf = EncodeFrame(buf, Envelope{ClientID: 1, Tag: TagHubInfoRequest, Payload: []byte("a")})
	buf = EncodeFrame(buf, Envelope{ClientID: 1, Tag: TagHubInfoResponse, Payload: []byte("bb")})

	r := bufio.NewReader(bytes.NewReader(buf))
	first, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, TagHubInfoRequest, first.Tag)

	second, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, TagHubInfoResponse, second.Tag)
}

func TestLogMessageEncodeDecodeRoundTrip(t *testing.T) {
	encoded := EncodeLogMessage(WireLogWarn, 123456789, "disk nearly full")

	level, ts, msg, err := DecodeLogMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, WireLogWarn, level)
	assert.Equal(t, uint64(123456789), ts)
	assert.Equal(t, "disk nearly full", msg)
}
