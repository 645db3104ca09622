// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// maxValueElements bounds the length of a decoded attribute value.
const maxValueElements = 65536

var (
	// encMode uses Core Deterministic Encoding (RFC 8949 §4.2).
	encMode cbor.EncMode

	// decMode ignores unknown fields and decodes untyped maps as
	// map[string]any.
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: maxValueElements,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder and Decoder are aliases so consumers import only lib/codec.
type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// RawMessage is a raw encoded CBOR value, used to delay decoding.
type RawMessage = cbor.RawMessage

// NewEncoder returns a deterministic CBOR encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// ErrNotValue reports stored bytes that are not a CBOR array of text
// strings.
var ErrNotValue = errors.New("codec: not an attribute value")

// EncodeValue encodes an attribute value. A nil value encodes as the
// empty array, so nil and empty are indistinguishable once stored.
func EncodeValue(value []string) ([]byte, error) {
	if value == nil {
		value = []string{}
	}
	return encMode.Marshal(value)
}

// DecodeValue decodes bytes written by EncodeValue. It never returns a
// nil slice on success.
func DecodeValue(data []byte) ([]string, error) {
	var value []string
	if err := decMode.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotValue, err)
	}
	if value == nil {
		value = []string{}
	}
	return value, nil
}
