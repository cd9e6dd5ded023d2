// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package stratumcodec

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"id":1,"result":[null,"0a"],"error":null}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, msg.Kind)
	assert.Equal(t, 1, msg.ID)
	assert.True(t, msg.HasID)
	assert.False(t, msg.HasError())
}

func TestDecodeResponseWithError(t *testing.T) {
	msg, err := Decode([]byte(`{"id":2,"result":null,"error":"bad share"}` + "\n"))
	require.NoError(t, err)
	assert.True(t, msg.HasError())
}

func TestDecodeNotification(t *testing.T) {
	msg, err := Decode([]byte(`{"method":"mining.set_target","params":["00ff"]}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, msg.Kind)
	assert.Equal(t, "mining.set_target", msg.Method)
}

func TestDecodeNeitherResultNorMethod(t *testing.T) {
	_, err := Decode([]byte(`{"id":1}`))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	line := EncodeRequest("mining.subscribe", 7, SubscribeParams("pool.example", 3357))
	assert.True(t, strings.HasSuffix(string(line), "\n"))

	msg, err := decodeAsRequest(t, line)
	require.NoError(t, err)
	assert.Equal(t, "mining.subscribe", msg.Method)
	assert.Equal(t, 7, msg.ID)
}

// decodeAsRequest decodes an encoded request line back into the fields
// EncodeRequest wrote, which Decode itself cannot do: a request carries a
// "method" key, so Decode classifies it as a Notification and does not keep
// its id. Requests are client->server only, so this is a direct struct round
// trip instead.
func decodeAsRequest(t *testing.T, line []byte) (struct {
	ID     int
	Method string
}, error) {
	t.Helper()
	var req struct {
		ID     int    `json:"id"`
		Method string `json:"method"`
	}
	err := json.Unmarshal(line, &req)
	return struct {
		ID     int
		Method string
	}{req.ID, req.Method}, err
}

func TestParseSubscribeResult(t *testing.T) {
	nonceLeftHex, err := ParseSubscribeResult([]byte(`[null,"0a"]`))
	require.NoError(t, err)
	assert.Equal(t, "0a", nonceLeftHex)

	_, err = ParseSubscribeResult([]byte(`[null]`))
	assert.Error(t, err)
}

func TestParseAuthorizeAndSubmitResult(t *testing.T) {
	assert.True(t, ParseAuthorizeResult([]byte(`true`)))
	assert.False(t, ParseAuthorizeResult([]byte(`false`)))
	assert.True(t, ParseSubmitResult([]byte(`true`)))
}

func TestParseSetTargetParams(t *testing.T) {
	target := strings.Repeat("00", 31) + "ff"
	targetHex, err := ParseSetTargetParams([]byte(`["` + target + `"]`))
	require.NoError(t, err)
	assert.Equal(t, target, targetHex)

	_, err = ParseSetTargetParams([]byte(`["short"]`))
	assert.Error(t, err)
}

func validNotifyJSON(cleanJobs bool) string {
	hashPrev := strings.Repeat("ab", 32)
	merkle := strings.Repeat("cd", 32)
	reserved := strings.Repeat("00", 32)
	clean := "false"
	if cleanJobs {
		clean = "true"
	}
	return `["job1","04000000","` + hashPrev + `","` + merkle + `","` + reserved + `","5a000000","1d00ffff",` + clean + `]`
}

func TestParseNotifyParams(t *testing.T) {
	job, err := ParseNotifyParams([]byte(validNotifyJSON(true)))
	require.NoError(t, err)
	assert.Equal(t, "job1", job.JobID)
	assert.True(t, job.CleanJobs)
}

func TestParseNotifyParamsRejectsBadVersion(t *testing.T) {
	bad := strings.Replace(validNotifyJSON(true), "04000000", "01000000", 1)
	_, err := ParseNotifyParams([]byte(bad))
	assert.Error(t, err)
}

func TestParseNotifyParamsRejectsNonZeroReserved(t *testing.T) {
	reserved := strings.Repeat("00", 31) + "01"
	bad := strings.Replace(validNotifyJSON(true), strings.Repeat("00", 32), reserved, 1)
	_, err := ParseNotifyParams([]byte(bad))
	assert.Error(t, err)
}

func TestAssembleHeaderPrefixLength(t *testing.T) {
	job, err := ParseNotifyParams([]byte(validNotifyJSON(true)))
	require.NoError(t, err)

	prefix, err := AssembleHeaderPrefix(job)
	require.NoError(t, err)
	assert.Len(t, prefix, headerPrefixLen)
}

func TestReverseBytes(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03}
	assert.Equal(t, []byte{0x03, 0x02, 0x01}, ReverseBytes(in))
	assert.Empty(t, ReverseBytes(nil))
}

func TestReverseBytesIsInvolution(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "bytes")
		out := ReverseBytes(ReverseBytes(in))
		if len(in) == 0 {
			assert.Empty(t, out)
		} else {
			assert.Equal(t, in, out)
		}
	})
}

func TestTargetFromWireHexReversesBytes(t *testing.T) {
	wire := make([]byte, 32)
	wire[0] = 0xff
	target, err := TargetFromWireHex(hex.EncodeToString(wire))
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), target[31])
}

func TestNonceLeftFromHexRejectsOverlong(t *testing.T) {
	_, err := NonceLeftFromHex(strings.Repeat("00", 18))
	assert.Error(t, err)

	b, err := NonceLeftFromHex(strings.Repeat("00", 17))
	require.NoError(t, err)
	assert.Len(t, b, 17)
}
