// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package aad canonicalizes the metadata bound into every AEAD operation
// (wrapped-key AAD, master-secret AAD, audit-entry signing payloads) so two
// independent implementations reproduce byte-identical output for the same
// logical object.
package aad

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Builder accumulates named fields and serializes them deterministically:
// keys are sorted lexicographically, and any field added via Bytes is
// base64url-encoded before being placed in the JSON so the output never
// depends on how the caller chose to serialize raw bytes.
type Builder struct {
	fields map[string]any
}

// NewBuilder creates an empty canonicalizer.
func NewBuilder() *Builder {
	return &Builder{fields: make(map[string]any)}
}

// Str sets a string-valued field.
func (b *Builder) Str(key, value string) *Builder {
	b.fields[key] = value
	return b
}

// Int sets an integer-valued field.
func (b *Builder) Int(key string, value int64) *Builder {
	b.fields[key] = value
	return b
}

// Bool sets a boolean-valued field.
func (b *Builder) Bool(key string, value bool) *Builder {
	b.fields[key] = value
	return b
}

// Bytes sets a byte-valued field; it is pre-encoded as base64url so the
// canonical form never depends on a caller's choice of byte representation.
func (b *Builder) Bytes(key string, value []byte) *Builder {
	b.fields[key] = b64url(value)
	return b
}

// Any sets a field carrying an arbitrary JSON-marshalable value (e.g. a
// map[string]any of free-form details). encoding/json sorts map keys at
// every nesting level when marshaling, so the result stays deterministic.
func (b *Builder) Any(key string, value any) *Builder {
	b.fields[key] = value
	return b
}

// Build serializes the accumulated fields as canonical JSON: object keys in
// lexicographic order, no insignificant whitespace, byte fields pre-encoded.
// canonical(x) == canonical(y) iff x and y were built from the same
// key/value pairs, regardless of the order fields were added in.
func (b *Builder) Build() ([]byte, error) {
	keys := make([]string, 0, len(b.fields))
	for k := range b.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(b.fields[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Equal reports whether two builders would serialize identically.
func Equal(a, b *Builder) bool {
	ab, errA := a.Build()
	bb, errB := b.Build()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func b64url(b []byte) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	if len(b) == 0 {
		return ""
	}
	var out bytes.Buffer
	for i := 0; i < len(b); i += 3 {
		chunk := b[i:min(i+3, len(b))]
		n := len(chunk)
		b0 := int(chunk[0])
		b1, b2 := 0, 0
		if n > 1 {
			b1 = int(chunk[1])
		}
		if n > 2 {
			b2 = int(chunk[2])
		}
		out.WriteByte(alphabet[b0>>2])
		out.WriteByte(alphabet[((b0&0x03)<<4)|(b1>>4)])
		if n > 1 {
			out.WriteByte(alphabet[((b1&0x0f)<<2)|(b2>>6)])
		}
		if n > 2 {
			out.WriteByte(alphabet[b2&0x3f])
		}
	}
	return out.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
