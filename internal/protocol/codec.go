package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket subprotocols, one per codec.
const (
	JSONSubprotocol    = "signal.json.v1"
	MsgpackSubprotocol = "signal.msgpack.v1"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Subprotocols lists the supported subprotocols in server preference order.
var Subprotocols = []string{JSONSubprotocol, MsgpackSubprotocol}

// Codec turns envelopes into frames and back.
type Codec interface {
	Subprotocol() string
	// Binary reports whether frames go out as binary WebSocket messages.
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Frame, error)
}

// Frame is a decoded envelope whose payload has not been bound yet.
type Frame struct {
	Type string
	ID   string

	raw  []byte
	bind func(raw []byte, dst any) error
}

// Bind decodes the payload into dst. An absent payload leaves dst untouched.
func (f Frame) Bind(dst any) error {
	if len(f.raw) == 0 || f.bind == nil {
		return nil
	}
	if err := f.bind(f.raw, dst); err != nil {
		return fmt.Errorf("bind %s payload: %w", f.Type, err)
	}
	return nil
}

// ForSubprotocol returns the codec negotiated for the subprotocol. An empty
// name selects JSON.
func ForSubprotocol(name string) (Codec, error) {
	switch name {
	case "", JSONSubprotocol:
		return JSON{}, nil
	case MsgpackSubprotocol:
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// ByName maps the short names used on the command line ("json", "msgpack").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type JSON struct{}

func (JSON) Subprotocol() string { return JSONSubprotocol }
func (JSON) Binary() bool        { return false }

func (JSON) Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSON) Decode(data []byte) (Frame, error) {
	var env struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("decode json frame: %w", err)
	}
	raw := []byte(env.Payload)
	if bytes.Equal(raw, []byte("null")) {
		raw = nil
	}
	return Frame{Type: env.Type, ID: env.ID, raw: raw, bind: json.Unmarshal}, nil
}

// Msgpack reuses the json struct tags so both codecs share one field naming.
type Msgpack struct{}

func (Msgpack) Subprotocol() string { return MsgpackSubprotocol }
func (Msgpack) Binary() bool        { return true }

func (Msgpack) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode msgpack frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (Msgpack) Decode(data []byte) (Frame, error) {
	var env struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload msgpack.RawMessage `json:"payload"`
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&env); err != nil {
		return Frame{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	raw := []byte(env.Payload)
	// 0xc0 is msgpack nil
	if len(raw) == 1 && raw[0] == 0xc0 {
		raw = nil
	}
	return Frame{Type: env.Type, ID: env.ID, raw: raw, bind: bindMsgpack}, nil
}

func bindMsgpack(raw []byte, dst any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	return dec.Decode(dst)
}
