package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineDecoder_SplitsAndHoldsBack(t *testing.T) {
	var d LineDecoder

	assert.Empty(t, d.Write([]byte(`data: {"a":`)))
	assert.Equal(t, 11, d.Pending())

	lines := d.Write([]byte("1}\n\ndata: [DO"))
	assert.Equal(t, []string{`data: {"a":1}`, ""}, lines)

	lines = d.Write([]byte("NE]\n"))
	assert.Equal(t, []string{"data: [DONE]"}, lines)
	assert.Zero(t, d.Pending())
}

func TestLineDecoder_CRLF(t *testing.T) {
	var d LineDecoder

	lines := d.Write([]byte("event: x\r\ndata: y\r\n"))
	assert.Equal(t, []string{"event: x", "data: y"}, lines)
}

func TestLineDecoder_MultiByteRuneAcrossChunks(t *testing.T) {
	var d LineDecoder
	word := []byte("data: héllo\n")

	// Split inside the two-byte é.
	split := 8
	assert.Empty(t, d.Write(word[:split]))
	assert.Equal(t, []string{"data: héllo"}, d.Write(word[split:]))
}

func TestLineDecoder_Flush(t *testing.T) {
	var d LineDecoder
	d.Write([]byte("data: tail"))

	assert.Equal(t, "data: tail", d.Flush())
	assert.Zero(t, d.Pending())
	assert.Equal(t, "", d.Flush())
}

func TestDataPayload(t *testing.T) {
	tests := []struct {
		line    string
		payload string
		ok      bool
	}{
		{`data: {"x":1}`, `{"x":1}`, true},
		{`data:{"x":1}`, `{"x":1}`, true},
		{"data: [DONE]", "[DONE]", true},
		{"event: message_stop", "", false},
		{": keep-alive", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p, ok := DataPayload(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.payload, p)
		})
	}
}

func TestDone(t *testing.T) {
	assert.True(t, Done("[DONE]"))
	assert.False(t, Done(`{"done":true}`))
}
