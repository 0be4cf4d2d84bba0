// Package codec encodes events and handler output for sinks and
// communicators that write to the wire. Two codecs are available: JSON and
// CBOR (Core Deterministic Encoding).
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/orchd/errors"
	"github.com/c360/orchd/model"
)

// Codec names accepted by ByName.
const (
	JSON = "json"
	CBOR = "cbor"
)

// Codec converts values to and from bytes.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ByName returns the codec registered under name. An empty name selects
// JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", JSON:
		return jsonCodec{}, nil
	case CBOR:
		return cborCodec{}, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown codec %q", errors.ErrInvalidConfig, name),
			"codec", "ByName", "select codec")
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return JSON }
func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	// Payload maps decode as map[string]any so handlers see the same
	// shapes as with JSON.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string                       { return CBOR }
func (cborCodec) ContentType() string                { return "application/cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return encMode.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Envelope carries an event between processes together with the sender's
// logical clock.
type Envelope struct {
	Event  model.EventRecord `json:"event" cbor:"event"`
	Clock  uint64            `json:"clock" cbor:"clock"`
	Source string            `json:"source" cbor:"source"`
}

// EncodeEvent wraps e in an envelope and encodes it.
func EncodeEvent(c Codec, e model.Event, clock uint64, source string) ([]byte, error) {
	b, err := c.Marshal(Envelope{Event: e.Record(), Clock: clock, Source: source})
	if err != nil {
		return nil, errors.WrapInvalid(err, "codec", "EncodeEvent", "encode envelope")
	}
	return b, nil
}

// DecodeEvent decodes an envelope and rebuilds its event, keeping the
// original id.
func DecodeEvent(c Codec, data []byte) (model.Event, Envelope, error) {
	var env Envelope
	if err := c.Unmarshal(data, &env); err != nil {
		return model.Event{}, env, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"codec", "DecodeEvent", "decode envelope")
	}
	e, err := model.FromRecord(env.Event)
	if err != nil {
		return model.Event{}, env, err
	}
	return e, env, nil
}

// EncodePayload encodes handler output for a sink. Byte slices and strings
// are written as is; everything else goes through c.
func EncodePayload(c Codec, data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := c.Marshal(data)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"codec", "EncodePayload", "encode "+c.Name())
	}
	return b, nil
}
