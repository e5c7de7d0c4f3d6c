// Package testhelpers provides utilities shared by the voicerelay server tests.
//
// It wraps dialing a relay over WebSocket, exchanging envelopes in either
// negotiated codec, and waiting for a particular event type while skipping
// unrelated roster broadcasts.
package testhelpers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// ReadTimeout bounds every helper read so a missing event fails the test
// instead of hanging it.
const ReadTimeout = 2 * time.Second

// Conn is a test client connection bound to the codec it negotiated. A
// background goroutine owns all reads so a quiet period never times out the
// underlying socket.
type Conn struct {
	*websocket.Conn
	Codec protocol.Codec

	frames chan []byte
}

// WebSocketURL converts an httptest server URL into a ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")

	return resp
}

// Dial opens a WebSocket to url requesting subprotocol, or none when empty.
func Dial(t *testing.T, url, subprotocol string) *Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}

	conn, resp, err := dialer.Dial(url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "failed to dial %s", url)

	c := &Conn{
		Conn:   conn,
		Codec:  protocol.CodecFor(conn.Subprotocol()),
		frames: make(chan []byte, 64),
	}
	go c.readLoop()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		c.frames <- data
	}
}

// Send encodes v with the connection's codec and writes it.
func (c *Conn) Send(t *testing.T, v any) {
	t.Helper()

	data, err := c.Codec.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(c.Codec.FrameType(), data))
}

// ReadRaw returns the next frame exactly as it arrived.
func (c *Conn) ReadRaw(t *testing.T) []byte {
	t.Helper()

	select {
	case data, ok := <-c.frames:
		require.True(t, ok, "connection closed")
		return data
	case <-time.After(ReadTimeout):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// Read returns the next decoded envelope.
func (c *Conn) Read(t *testing.T) map[string]any {
	t.Helper()

	var msg map[string]any
	require.NoError(t, c.Codec.Unmarshal(c.ReadRaw(t), &msg))
	return msg
}

// ReadType reads envelopes until one of type typ arrives and returns it.
func (c *Conn) ReadType(t *testing.T, typ protocol.Type) map[string]any {
	t.Helper()

	for {
		msg := c.Read(t)
		if msg["type"] == string(typ) {
			return msg
		}
	}
}

// ExpectNone asserts that no envelope other than a roster broadcast arrives
// within wait.
func (c *Conn) ExpectNone(t *testing.T, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case data, ok := <-c.frames:
			if !ok {
				return
			}
			var msg map[string]any
			require.NoError(t, c.Codec.Unmarshal(data, &msg))
			require.Equal(t, string(protocol.TypeUserList), msg["type"], "unexpected envelope %v", msg)
		case <-deadline:
			return
		}
	}
}

// ExpectClosed waits for the server to close the connection, discarding any
// frames still in flight.
func (c *Conn) ExpectClosed(t *testing.T) {
	t.Helper()

	deadline := time.After(ReadTimeout)
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection was not closed")
		}
	}
}

// ReadRoster waits for a userList with exactly want entries and returns
// the ids in it.
func (c *Conn) ReadRoster(t *testing.T, want int) []uint64 {
	t.Helper()

	for {
		msg := c.ReadType(t, protocol.TypeUserList)
		users, ok := msg["users"].([]any)
		require.True(t, ok, "users is %T", msg["users"])
		if len(users) != want {
			continue
		}
		ids := make([]uint64, 0, len(users))
		for _, u := range users {
			ids = append(ids, ToUint(t, u))
		}
		return ids
	}
}

// ToUint converts a decoded number from either codec to uint64.
func ToUint(t *testing.T, v any) uint64 {
	t.Helper()

	switch n := v.(type) {
	case float64:
		return uint64(n)
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	default:
		t.Fatalf("value %v (%T) is not a number", v, v)
		return 0
	}
}
