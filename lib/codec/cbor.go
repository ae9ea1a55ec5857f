// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Modes are built once at package init. EncMode and DecMode are
// immutable and safe for concurrent use.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

// mustEncMode pins the encoder to Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer widths, no
// indefinite-length items. Manifest hashes are computed over encoded
// bytes, so the same logical value has to encode identically every
// time. Types with MarshalText (session.ID, merkle.Hash) encode as
// CBOR text strings; their unexported fields would otherwise flatten
// to empty maps.
func mustEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	mode, err := opts.EncMode()
	if err != nil {
		panic("codec: building CBOR encode mode: " + err.Error())
	}
	return mode
}

// mustDecMode builds the matching decoder.
func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// Capstan map keys are always strings, so any-typed targets
		// decode to map[string]any rather than CBOR's default
		// map[interface{}]interface{}, which the json package and most
		// Go code cannot digest. Struct targets are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),

		// Round-trip counterpart of TextMarshalerTextString above:
		// session.ID and merkle.Hash parse back via UnmarshalText.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decode mode: " + err.Error())
	}
	return mode
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v. Fields v does not declare are
// ignored, so old readers accept artifacts written by newer code.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }
