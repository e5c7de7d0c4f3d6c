package server

import (
	"strings"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// inboundFrame is one raw frame read from a client, waiting to be routed.
type inboundFrame struct {
	sender *Client
	data   []byte
}

// outbound is a server-built event. It is encoded lazily, once per codec, so
// a broadcast to many clients of the same codec marshals only once.
type outbound struct {
	value   any
	encoded map[string][]byte
}

func newOutbound(v any) *outbound {
	return &outbound{value: v, encoded: make(map[string][]byte, 1)}
}

func (o *outbound) bytesFor(codec protocol.Codec) ([]byte, error) {
	if data, ok := o.encoded[codec.Name()]; ok {
		return data, nil
	}
	data, err := codec.Marshal(o.value)
	if err != nil {
		return nil, err
	}
	o.encoded[codec.Name()] = data
	return data, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
