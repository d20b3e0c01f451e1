// types_test.go: tests for message, JSEP and result types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOfferSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func TestHandleID_String(t *testing.T) {
	assert.Equal(t, "0", HandleID(0).String())
	assert.Equal(t, "18446744073709551615", HandleID(^uint64(0)).String())
}

func TestPluginStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "offline", StatusOffline.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "unknown", PluginStatus(99).String())
}

func TestResultType_String(t *testing.T) {
	assert.Equal(t, "ok", ResultOK.String())
	assert.Equal(t, "ok_wait", ResultOKWait.String())
	assert.Equal(t, "error", ResultError.String())
	assert.Equal(t, "unknown", ResultType(7).String())
}

func TestParseBody(t *testing.T) {
	body, err := parseBody([]byte("  {\"request\":\"ping\"}\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"request":"ping"}`, string(body))

	for name, raw := range map[string]string{
		"empty":     "",
		"blank":     "   ",
		"array":     `[1,2]`,
		"string":    `"ping"`,
		"truncated": `{"request":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseBody([]byte(raw))
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, ErrCodeMalformedInput))
		})
	}
}

func TestParseJsep(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		for _, raw := range []string{"", " ", "null"} {
			jsep, err := parseJsep([]byte(raw))
			assert.NoError(t, err)
			assert.Nil(t, jsep)
		}
	})

	t.Run("offer", func(t *testing.T) {
		raw, err := json.Marshal(map[string]any{"type": "offer", "sdp": testOfferSDP, "trickle": false})
		require.NoError(t, err)

		jsep, err := parseJsep(raw)
		require.NoError(t, err)
		assert.Equal(t, JsepOffer, jsep.Type)
		require.NotNil(t, jsep.Trickle)
		assert.False(t, *jsep.Trickle)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{`{"type":`, `{"type":"pranswer","sdp":"v=0"}`, `{"type":"offer"}`} {
			_, err := parseJsep([]byte(raw))
			require.Error(t, err, raw)
			assert.True(t, IsErrorCode(err, ErrCodeMalformedInput), raw)
		}
	})
}

func TestJsep_SessionDescription(t *testing.T) {
	jsep := &Jsep{Type: JsepOffer, SDP: testOfferSDP}
	desc, err := jsep.SessionDescription()
	require.NoError(t, err)
	require.Len(t, desc.MediaDescriptions, 1)
	assert.Equal(t, "audio", desc.MediaDescriptions[0].MediaName.Media)

	_, err = (&Jsep{Type: JsepOffer, SDP: "not sdp"}).SessionDescription()
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeMalformedInput))
}

func TestIncomingMessage_Decode(t *testing.T) {
	msg := IncomingMessage{Transaction: "t", Body: json.RawMessage(`{"request":"configure","bitrate":128000}`)}

	var req struct {
		Request string `json:"request"`
		Bitrate int    `json:"bitrate"`
	}
	require.NoError(t, msg.Decode(&req))
	assert.Equal(t, "configure", req.Request)
	assert.Equal(t, 128000, req.Bitrate)

	var wrong struct {
		Bitrate string `json:"bitrate"`
	}
	err := msg.Decode(&wrong)
	assert.True(t, IsErrorCode(err, ErrCodeMalformedInput))
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"nil", nil, `{}`},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"raw", json.RawMessage(`{"b":2}`), `{"b":2}`},
		{"bytes", []byte(`{"c":3}`), `{"c":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := encodePayload(tt.payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}

	_, err := encodePayload(json.RawMessage(`{broken`))
	assert.True(t, IsErrorCode(err, ErrCodeSerializationError))
	_, err = encodePayload(make(chan int))
	assert.True(t, IsErrorCode(err, ErrCodeSerializationError))
}

func TestResponse_Encode(t *testing.T) {
	out, err := Success(map[string]string{"result": "ok"}).encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(out))

	out, err = Failure(NewHandleNotFoundError(4)).encode()
	require.NoError(t, err)
	var payload errorPayload
	require.NoError(t, json.Unmarshal(out, &payload))
	assert.Equal(t, ErrCodeHandleNotFound, payload.ErrorCode)
	assert.Contains(t, payload.Error, "Handle not found")

	out, err = Failure(errors.New("room closed")).encode()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &payload))
	assert.Equal(t, ErrCodeMessageFailed, payload.ErrorCode)
	assert.Equal(t, "room closed", payload.Error)

	jsep := &Jsep{Type: JsepAnswer, SDP: "v=0"}
	resp := SuccessWithJsep(nil, jsep)
	assert.Same(t, jsep, resp.Jsep)
}

func TestErrorResult(t *testing.T) {
	result := errorResult(errors.New("bad"))
	assert.Equal(t, ResultError, result.Type)
	assert.Equal(t, "bad", result.Text)
	assert.Nil(t, result.Content)
}
