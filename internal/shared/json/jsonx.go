// Package jsonx routes JSON encoding through goccy/go-json.
package jsonx

import (
	"errors"
	"io"

	"github.com/goccy/go-json"
)

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewEncoder = json.NewEncoder
	NewDecoder = json.NewDecoder
)

type (
	RawMessage = json.RawMessage
	Number     = json.Number
)

// ErrTrailingData reports input with more than one JSON value.
var ErrTrailingData = errors.New("json: more than one value")

// DecodeStrict reads exactly one JSON value from r into v, rejecting unknown
// object fields.
func DecodeStrict(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return ErrTrailingData
	}
	return nil
}
