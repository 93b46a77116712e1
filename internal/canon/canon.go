// Package canon provides canonical serialization and hashing for the
// simulation core.
//
// Three consumers rely on the same canonical form:
//
//   - thread key derivation: the participant set of a message must hash
//     to the same key regardless of address order or Unicode encoding
//   - the trace log: mutation arguments are stored as canonical JSON so
//     a byte-compare of two traces is a semantic compare
//   - state digests: replay verification compares environment snapshots
//     by canonical hash
//
// Canonical JSON here means: object keys sorted bytewise, strings NFC
// normalized, no HTML escaping, floats in shortest round-trip form, and
// timestamps rendered as RFC 3339 UTC with nanoseconds. Unlike strict
// RFC 8785 we admit floats and null - the simulated facets carry
// coordinates and optional fields, and every producer in this module
// formats them identically, which is all determinism requires.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for hash separation. Version suffix enables future
// algorithm migration.
const (
	DomainThreadKey = "devicesim/thread/v1"
	DomainState     = "devicesim/state/v1"
)

// Marshal produces canonical JSON for v.
//
// Supported types: nil, string, bool, int, int64, float64, time.Time,
// []any, map[string]any, and json.Marshaler values that decompose into
// those. Anything else is an error - the caller is feeding a value the
// trace format does not cover.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case string:
		return encodeString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case float64:
		return encodeFloat(buf, val)
	case time.Time:
		return encodeString(buf, val.UTC().Format(time.RFC3339Nano))
	case []any:
		return encodeArray(buf, val)
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return encodeArray(buf, arr)
	case map[string]any:
		return encodeObject(buf, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// encodeString writes a JSON string with NFC normalization and HTML
// escaping disabled.
func encodeString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	// Encoder appends a trailing newline; drop it.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// encodeFloat writes a float in shortest round-trip decimal form.
// NaN and infinities have no JSON representation and are rejected.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite float %v has no canonical form", f)
	}
	// Integral floats render without a spurious fraction: 42, not 42.0.
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return fmt.Errorf("object[%q]: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// Hash computes a domain-separated SHA-256 over the canonical form of v.
// Format: SHA256(domain + 0x00 + canonical(v)), hex encoded.
// The null byte separator prevents domain/data boundary ambiguity.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeAddress canonicalizes a participant address for key
// derivation: NFC normalization, whitespace trim, lowercase.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(addr)))
}
