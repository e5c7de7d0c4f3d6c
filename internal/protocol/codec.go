package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// SubprotocolJSON is the default subprotocol; envelopes travel as JSON text frames.
	SubprotocolJSON = "voicerelay.json"
	// SubprotocolMsgpack carries the same envelopes as msgpack binary frames.
	SubprotocolMsgpack = "voicerelay.msgpack"
)

// Codec encodes and decodes envelopes for one negotiated subprotocol.
type Codec interface {
	Name() string
	// FrameType is the websocket message type used for frames in this codec.
	FrameType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Fields splits a top-level object into its raw values, keyed by the
	// exact field names found on the wire.
	Fields(data []byte) (map[string][]byte, error)
}

// JSONCodec is the default codec used by browser clients.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return SubprotocolJSON }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Fields(data []byte) (map[string][]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string][]byte, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return fields, nil
}

// MsgpackCodec encodes envelopes with msgpack using the same field names as JSON.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return SubprotocolMsgpack }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (MsgpackCodec) Fields(data []byte) (map[string][]byte, error) {
	var raw map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string][]byte, len(raw))
	for k, v := range raw {
		fields[k] = v
	}
	return fields, nil
}

// Subprotocols lists the subprotocols the server is willing to negotiate, in
// order of preference.
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolMsgpack}
}

// CodecFor returns the codec for a negotiated subprotocol. An empty or unknown
// name falls back to JSON.
func CodecFor(subprotocol string) Codec {
	switch subprotocol {
	case SubprotocolMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

// Transcode re-encodes an opaque envelope from one codec to another. When both
// codecs are the same the input is returned untouched.
func Transcode(from, to Codec, data []byte) ([]byte, error) {
	if from.Name() == to.Name() {
		return data, nil
	}

	var generic map[string]any
	if _, ok := from.(JSONCodec); ok {
		// json would turn every number into float64, which msgpack then
		// refuses to decode back into an integer id.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, fmt.Errorf("decode %s envelope: %w", from.Name(), err)
		}
		generic = normalizeNumbers(generic).(map[string]any)
	} else if err := from.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", from.Name(), err)
	}

	out, err := to.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", to.Name(), err)
	}
	return out, nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}
