package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_MarshalLayout(t *testing.T) {
	f := NewFrame(CommandSend,
		Header{Name: "destination", Value: "/app/chat"},
		Header{Name: "content-type", Value: "application/json"},
	)
	f.Body = []byte(`{"content":"hi"}`)

	got := string(f.Marshal())
	want := "SEND\ndestination:/app/chat\ncontent-type:application/json\n\n{\"content\":\"hi\"}\x00"
	assert.Equal(t, want, got)
}

func TestFrame_ParseRoundTrip(t *testing.T) {
	f := NewFrame(CommandSubscribe,
		Header{Name: "id", Value: "sub-1"},
		Header{Name: "destination", Value: "/user/alice/queue/messages"},
	)

	parsed, err := Parse(f.Marshal())
	require.NoError(t, err)

	assert.Equal(t, CommandSubscribe, parsed.Command)
	assert.Equal(t, "sub-1", parsed.Header("id"))
	assert.Equal(t, "/user/alice/queue/messages", parsed.Header("destination"))
	assert.Empty(t, parsed.Body)
}

func TestFrame_ParseBodyWithNewlines(t *testing.T) {
	raw := "MESSAGE\nsubscription:sub-2\ndestination:/user/alice/queue/call\n\nline1\n\nline2\x00"
	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, CommandMessage, parsed.Command)
	// Only the first blank line separates headers and body.
	assert.Equal(t, "line1\n\nline2", string(parsed.Body))
}

func TestFrame_ParseCRLF(t *testing.T) {
	raw := "CONNECTED\r\nversion:1.1\r\n\r\n\x00"
	parsed, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, CommandConnected, parsed.Command)
	assert.Equal(t, "1.1", parsed.Header("version"))
}

func TestFrame_ParseErrors(t *testing.T) {
	_, err := Parse([]byte{0})
	assert.Error(t, err)

	_, err = Parse([]byte("MESSAGE\nbroken header line\n\n\x00"))
	assert.Error(t, err)
}

func TestFrame_HeaderAbsent(t *testing.T) {
	f := NewFrame(CommandConnect)
	assert.Equal(t, "", f.Header("receipt"))
}
