// Package extract pulls structured JSON out of free-form language model
// output. Models routinely wrap JSON in prose or markdown fences, so the
// extractor looks for the first balanced object or array that parses.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrOutputShape reports that model output did not contain JSON of the
// expected shape.
var ErrOutputShape = errors.New("output did not match expected shape")

// Span returns the first balanced {...} or [...] region of text that is
// valid JSON. The second result is false when no such region exists.
func Span(text string) (json.RawMessage, bool) {
	start, end, ok := spanFrom(text, 0, make(map[int]int))
	if !ok {
		return nil, false
	}
	return json.RawMessage(text[start : end+1]), true
}

// spanFrom is Span for candidates starting at or after from. known caches
// the closing index of every opener a previous scan walked over, -1 when
// it never closes, so each opener is scanned at most once.
func spanFrom(text string, from int, known map[int]int) (int, int, bool) {
	for start := from; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		end, seen := known[start]
		if !seen {
			end = scan(text, start, known)
		}
		if end < 0 {
			continue
		}
		if json.Valid([]byte(text[start : end+1])) {
			return start, end, true
		}
	}
	return 0, 0, false
}

// scan walks text from the opener at start, honouring JSON string quoting,
// and returns the index of the bracket that closes it or -1. Every opener
// met outside a string is recorded in known: an inner scan from it would
// see the same bytes in the same string state, so its outcome is decided
// here too.
func scan(text string, start int, known map[int]int) int {
	stack := make([]int, 0, 8)
	defer func() {
		for _, p := range stack {
			known[p] = -1
		}
	}()
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, i)
		case '}', ']':
			if len(stack) == 0 || closer(text[stack[len(stack)-1]]) != c {
				return -1
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			known[open] = i
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func closer(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

// Payload decodes the first JSON span of text. Numbers are kept as
// json.Number so request bodies do not lose integer precision. It returns
// false, never an error, when the text carries no JSON.
func Payload(text string) (any, bool) {
	raw, ok := Span(text)
	if !ok {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// Object decodes the first JSON object found in text into v. Objects
// nested in a leading array count, so a reply wrapped in [...] still
// decodes. Failure to find or decode one is reported as ErrOutputShape.
func Object(text string, v any) error {
	known := make(map[int]int)
	for from := 0; from < len(text); {
		start, end, ok := spanFrom(text, from, known)
		if !ok {
			break
		}
		if text[start] == '{' {
			if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
				return fmt.Errorf("%w: %v", ErrOutputShape, err)
			}
			return nil
		}
		from = start + 1
	}
	return fmt.Errorf("%w: no JSON object in output", ErrOutputShape)
}
