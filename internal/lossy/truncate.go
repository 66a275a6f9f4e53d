// Package lossy bounds the size of JSON-shaped values before they are fed
// back into a prompt or returned to a client.
package lossy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxElements is the per-array cap used when callers have no opinion.
const DefaultMaxElements = 5

// Truncate walks a decoded JSON value and cuts every array to its first max
// elements. Objects keep all keys; their values are truncated recursively.
// Scalars are returned unchanged. The input is not modified.
func Truncate(v any, max int) any {
	if max < 0 {
		max = 0
	}
	switch t := v.(type) {
	case []any:
		n := len(t)
		if n > max {
			n = max
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			out[i] = Truncate(t[i], max)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Truncate(val, max)
		}
		return out
	default:
		return v
	}
}

var errTrailingData = errors.New("lossy: trailing data after JSON value")

// TruncateJSON applies the same rule as Truncate to an encoded document
// while preserving object key order, which a round trip through
// map[string]any would lose.
func TruncateJSON(data []byte, max int) ([]byte, error) {
	if max < 0 {
		max = 0
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := copyValue(dec, &buf, max, true); err != nil {
		return nil, fmt.Errorf("lossy: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return buf.Bytes(), nil
}

// copyValue consumes exactly one JSON value from dec, writing it to buf when
// emit is set.
func copyValue(dec *json.Decoder, buf *bytes.Buffer, max int, emit bool) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		if !emit {
			return nil
		}
		enc, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		buf.Write(enc)
		return nil
	}

	switch delim {
	case '[':
		if emit {
			buf.WriteByte('[')
		}
		n := 0
		for dec.More() {
			keep := emit && n < max
			if keep && n > 0 {
				buf.WriteByte(',')
			}
			if err := copyValue(dec, buf, max, keep); err != nil {
				return err
			}
			n++
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		if emit {
			buf.WriteByte(']')
		}
	case '{':
		if emit {
			buf.WriteByte('{')
		}
		first := true
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, ok := keyTok.(string)
			if !ok {
				return fmt.Errorf("object key is %T", keyTok)
			}
			if emit {
				if !first {
					buf.WriteByte(',')
				}
				first = false
				enc, _ := json.Marshal(key)
				buf.Write(enc)
				buf.WriteByte(':')
			}
			if err := copyValue(dec, buf, max, emit); err != nil {
				return err
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
		if emit {
			buf.WriteByte('}')
		}
	default:
		return fmt.Errorf("unexpected delimiter %q", delim)
	}
	return nil
}
