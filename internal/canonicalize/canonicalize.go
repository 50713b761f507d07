// Package canonicalize produces a deterministic JSON encoding used for
// hashing and HMAC signing across the registry, policy, and enforcement
// components. Go's encoding/json sorts map keys lexicographically but
// writes struct fields in declaration order; this package re-encodes so
// that every object's keys are sorted, and rejects NaN and Infinity.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Marshal serializes v using sorted object keys and rejects non-finite
// floats with a canonicalize error. Struct values are sorted too: the
// first encoding is decoded into generic values and encoded again.
func Marshal(v any) ([]byte, error) {
	if hasNonFinite(reflect.ValueOf(v)) {
		return nil, fmt.Errorf("canonicalize: value contains NaN or Infinity")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func hasNonFinite(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		return math.IsNaN(f) || math.IsInf(f, 0)
	case reflect.Map:
		for _, key := range v.MapKeys() {
			if hasNonFinite(v.MapIndex(key)) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if hasNonFinite(v.Index(i)) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if hasNonFinite(v.Field(i)) {
				return true
			}
		}
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			return hasNonFinite(v.Elem())
		}
	}
	return false
}

// HashHex returns the hex SHA-256 digest of v's canonical encoding. When v
// cannot be marshaled (e.g. it contains NaN/Inf, or a type json.Marshal
// rejects outright) it falls back to hashing fmt.Sprintf("%v", v), mirroring
// Python's json.dumps(..., default=str) fallback used by the system this
// was distilled from.
func HashHex(v any) string {
	data, err := Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
