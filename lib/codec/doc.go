// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides SONAR's CBOR encoding configuration.
//
// SONAR uses CBOR in two places: attribute values persisted by
// lib/store (see [EncodeValue] and [DecodeValue]) and the request and
// response envelopes of the admin socket. The protocol itself is plain
// text and does not go through this package.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same attribute value always produces the same stored bytes.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For sockets:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is only ever CBOR, such as the admin
//     [Response] envelope.
//   - `json` tag: the type is CBOR on the admin socket and JSON in
//     sonarctl --json output. fxamacker/cbor reads `json` tags when
//     `cbor` tags are absent, so one tag names the field in both.
//
// Never put both tags on the same field.
package codec
