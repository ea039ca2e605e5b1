// Package wire implements the backend RPC protocol's payload encoding:
// RequestMeta/ResponseMeta serialization and the request_timeout header's
// fixed-width integer encoding.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pitabwire/vicodyn/model"
)

// requestMetaWire is the on-wire shape of model.RequestMeta. Body is
// deliberately a string, not msgpack's bin type: the backend protocol
// carries the HTTP body in a text-typed field even when it is not valid
// UTF-8 (bytes-in-string convention). Go strings are plain byte sequences,
// so this conversion never fails or loses data.
type requestMetaWire struct {
	Method  string      `msgpack:"method"`
	URI     string      `msgpack:"uri"`
	Version string      `msgpack:"version"`
	Headers [][2]string `msgpack:"headers"`
	Body    string      `msgpack:"body"`
}

type responseMetaWire struct {
	Code    int64       `msgpack:"code"`
	Headers [][2]string `msgpack:"headers"`
}

// EncodeRequestMeta serializes a RequestMeta into the payload sent as the
// single positional argument of the method-id 0 payload frame.
func EncodeRequestMeta(m model.RequestMeta) ([]byte, error) {
	wireHeaders := make([][2]string, len(m.Headers))
	for i, h := range m.Headers {
		wireHeaders[i] = [2]string{h.Name, h.Value}
	}
	w := requestMetaWire{
		Method:  m.Method,
		URI:     m.URI,
		Version: m.Version,
		Headers: wireHeaders,
		Body:    string(m.Body),
	}
	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request meta: %w", err)
	}
	return data, nil
}

// DecodeResponseMeta decodes the first data frame of a backend response
// stream into a ResponseMeta.
func DecodeResponseMeta(data []byte) (model.ResponseMeta, error) {
	var w responseMetaWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return model.ResponseMeta{}, fmt.Errorf("wire: decode response meta: %w", err)
	}
	headers := make([]model.Header, len(w.Headers))
	for i, h := range w.Headers {
		headers[i] = model.Header{Name: h[0], Value: h[1]}
	}
	return model.ResponseMeta{Code: w.Code, Headers: headers}, nil
}

// EncodeResponseMeta serializes a ResponseMeta into the payload carried by
// the first data frame of a backend response stream. Used by Service
// implementations that synthesize replies rather than proxy a real
// cocaine-style backend (internal/pool's reference Service, and tests).
func EncodeResponseMeta(m model.ResponseMeta) ([]byte, error) {
	wireHeaders := make([][2]string, len(m.Headers))
	for i, h := range m.Headers {
		wireHeaders[i] = [2]string{h.Name, h.Value}
	}
	w := responseMetaWire{Code: m.Code, Headers: wireHeaders}
	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("wire: encode response meta: %w", err)
	}
	return data, nil
}

// EncodePrimitiveInt64 serializes a bare msgpack integer, the shape a
// single-chunk call (like the perf route's geobase lookup) replies with
// when it skips the ResponseMeta envelope entirely.
func EncodePrimitiveInt64(v int64) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode primitive int64: %w", err)
	}
	return data, nil
}

// PackTimeout encodes a timeout duration as the 8-byte little-endian u64
// milliseconds value carried by the request_timeout header.
func PackTimeout(d time.Duration) []byte {
	millis := uint64(math.Floor(d.Seconds() * 1000))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, millis)
	return buf
}

// DecodePrimitiveInt64 decodes a bare msgpack integer reply, the shape used
// by single-chunk calls (like the perf route's geobase lookup) that skip
// the ResponseMeta envelope entirely.
func DecodePrimitiveInt64(data []byte) (int64, error) {
	var v int64
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("wire: decode primitive int64: %w", err)
	}
	return v, nil
}

// UnpackTimeout decodes the request_timeout header's wire value back into a
// duration. Used by tests verifying the round trip.
func UnpackTimeout(b []byte) (time.Duration, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("wire: request_timeout must be 8 bytes, got %d", len(b))
	}
	millis := binary.LittleEndian.Uint64(b)
	return time.Duration(millis) * time.Millisecond, nil
}
