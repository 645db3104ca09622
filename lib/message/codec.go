// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"fmt"
	"strings"
)

// Buffer is an in-memory Encoder. The server encodes a notification
// once into a Buffer and hands the same bytes to every subscribed
// connection.
type Buffer struct {
	buf    bytes.Buffer
	frames int
}

// Encode appends one frame. On error the buffer is left unchanged.
func (b *Buffer) Encode(code Code, params ...string) error {
	if !code.Valid() {
		return fmt.Errorf("%w: %#02x", ErrUnknownCode, byte(code))
	}
	for _, param := range params {
		if strings.IndexByte(param, RecordSeparator) >= 0 || strings.IndexByte(param, UnitSeparator) >= 0 {
			return fmt.Errorf("%w: %q", ErrInvalidParam, param)
		}
	}
	b.buf.WriteByte(byte(code))
	for _, param := range params {
		b.buf.WriteByte(UnitSeparator)
		b.buf.WriteString(param)
	}
	b.buf.WriteByte(RecordSeparator)
	b.frames++
	return nil
}

// Bytes returns the encoded frames. The slice aliases the buffer until
// the next Encode or Reset.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int { return b.buf.Len() }

// Frames returns the number of encoded frames.
func (b *Buffer) Frames() int { return b.frames }

// Reset discards all encoded frames.
func (b *Buffer) Reset() {
	b.buf.Reset()
	b.frames = 0
}

// Append encodes a single frame onto dst and returns the extended
// slice.
func Append(dst []byte, code Code, params ...string) ([]byte, error) {
	var b Buffer
	if err := b.Encode(code, params...); err != nil {
		return dst, err
	}
	return append(dst, b.Bytes()...), nil
}

// Decoder splits a byte stream into frames. Feed bytes as they arrive
// and call Next until it reports no complete frame.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	limits  Limits
	pending []byte
}

// NewDecoder returns a decoder enforcing limits. A zero MaxFrameBytes
// selects the default.
func NewDecoder(limits Limits) *Decoder {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{limits: limits}
}

// Feed appends received bytes to the decoder's buffer.
func (d *Decoder) Feed(p []byte) {
	d.pending = append(d.pending, p...)
}

// Buffered returns the number of bytes waiting for a frame terminator.
func (d *Decoder) Buffered() int { return len(d.pending) }

// Next returns the next complete frame. ok is false when the buffer
// holds only a partial frame (or nothing). After a parse error the
// offending frame has been consumed and decoding may continue.
// ErrFrameTooLarge discards bytes mid-frame, leaving the stream out of
// alignment; the caller should treat the connection as broken.
func (d *Decoder) Next() (frame Frame, ok bool, err error) {
	end := bytes.IndexByte(d.pending, RecordSeparator)
	if end < 0 {
		if len(d.pending) > d.limits.MaxFrameBytes {
			d.pending = d.pending[:0]
			return Frame{}, false, ErrFrameTooLarge
		}
		return Frame{}, false, nil
	}
	raw := d.pending[:end]
	d.pending = d.pending[end+1:]
	if len(d.pending) == 0 {
		d.pending = d.pending[:0:0]
	}
	if end > d.limits.MaxFrameBytes {
		return Frame{}, false, ErrFrameTooLarge
	}
	frame, err = parseFrame(raw)
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

// parseFrame decodes the bytes of one frame, excluding the terminator.
func parseFrame(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	code := Code(raw[0])
	if !code.Valid() {
		return Frame{}, fmt.Errorf("%w: %#02x", ErrUnknownCode, raw[0])
	}
	rest := raw[1:]
	if len(rest) == 0 {
		return Frame{Code: code}, nil
	}
	if rest[0] != UnitSeparator {
		return Frame{}, fmt.Errorf("%w: code %s not followed by a separator", ErrUnknownCode, code)
	}
	fields := bytes.Split(rest[1:], []byte{UnitSeparator})
	params := make([]string, len(fields))
	for i, field := range fields {
		params[i] = string(field)
	}
	return Frame{Code: code, Params: params}, nil
}
