package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNoJSON is returned when a response contains no JSON object or array.
var ErrNoJSON = errors.New("no JSON found in model output")

var (
	// jsonBlockPattern matches the body of a markdown code block: ```json ... ```
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")
	// trailingWordPattern matches a bare token cut off at the end of the output.
	trailingWordPattern = regexp.MustCompile(`[A-Za-z0-9.+\-]+$`)
)

// maxObjectStarts bounds how many opening braces ParseObject tries.
const maxObjectStarts = 64

// ExtractJSON returns the JSON object embedded in a model response. A
// fenced code block wins; otherwise the text from the first opening brace
// up to the last closing brace is returned. Truncated output without a
// closer is returned from the brace to the end. Returns "" when the
// response holds no opening brace at all.
func ExtractJSON(content string) string {
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") {
			return inner
		}
	}
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(content, '}')
	if end < start {
		tail := strings.TrimSpace(content[start:])
		return strings.TrimSpace(strings.TrimSuffix(tail, "```"))
	}
	return content[start : end+1]
}

// objectStarts lists the offsets of opening braces in text.
func objectStarts(text string) []int {
	var offsets []int
	for i := 0; i < len(text) && len(offsets) < maxObjectStarts; i++ {
		if text[i] == '{' {
			offsets = append(offsets, i)
		}
	}
	return offsets
}

// NormalizeObject turns raw model output into a JSON object. It tries a
// strict parse of the extracted payload, then a repaired parse, and falls
// back to an empty object. It never panics.
func NormalizeObject(text string) map[string]any {
	obj, err := ParseObject(text)
	if err != nil {
		return map[string]any{}
	}
	return obj
}

// ParseObject is NormalizeObject with the failure reported. The returned map
// is never nil.
//
// Braces in the prose before the payload are skipped: each opening brace is
// tried in order, strictly and then repaired, and the first non-empty object
// wins. An empty object is returned only when nothing better decodes.
func ParseObject(text string) (obj map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = map[string]any{}, fmt.Errorf("normalize model output: %v", r)
		}
	}()

	if raw := ExtractJSON(text); raw != "" {
		if obj, ok := decodeObject(raw); ok && len(obj) > 0 {
			return obj, nil
		}
	}

	offsets := objectStarts(text)
	if len(offsets) == 0 {
		return map[string]any{}, ErrNoJSON
	}

	var empty map[string]any
	lastErr := error(ErrNoJSON)
	for _, off := range offsets {
		candidate := text[off:]
		if obj, ok := decodePrefix(candidate); ok {
			if len(obj) > 0 {
				return obj, nil
			}
			empty = obj
			continue
		}
		repaired, err := RepairJSON(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		obj, ok := decodeObject(repaired)
		if !ok {
			lastErr = fmt.Errorf("repaired output is not an object")
			continue
		}
		if len(obj) > 0 {
			return obj, nil
		}
		empty = obj
	}
	if empty != nil {
		return empty, nil
	}
	return map[string]any{}, lastErr
}

// decodePrefix decodes the object at the start of s and ignores whatever
// follows it.
func decodePrefix(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// RepairJSON fixes the defects models commonly produce: // and /* */
// comments, trailing or missing commas, single or typographic quotes used as
// delimiters, raw control characters inside strings, unterminated strings,
// unbalanced brackets and dangling separators left by truncation. Text
// before the first opening brace and after the matching closer is dropped.
func RepairJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	runes := []rune(text[start:])

	var (
		out       []byte
		stack     []rune
		quote     rune // delimiter of the open string, 0 outside strings
		escaped   bool
		expectKey bool
		keyStart  = -1
	)
	top := func() rune {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}
	// separate inserts a comma between two values written back to back.
	separate := func() {
		if len(stack) > 0 && missingComma(out) {
			out = append(out, ',')
			if top() == '}' {
				expectKey = true
			}
		}
	}

walk:
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if quote != 0 {
			switch {
			case escaped && r == '\'':
				out = append(out[:len(out)-1], '\'')
				escaped = false
			case escaped:
				out = utf8.AppendRune(out, r)
				escaped = false
			case r == '\\':
				out = append(out, '\\')
				escaped = true
			case closesString(quote, r, runes[i+1:]):
				out = append(out, '"')
				quote = 0
			case r == '"':
				out = append(out, '\\', '"')
			case r == '\n':
				out = append(out, '\\', 'n')
			case r == '\r':
				out = append(out, '\\', 'r')
			case r == '\t':
				out = append(out, '\\', 't')
			case r < 0x20:
				out = append(out, fmt.Sprintf("\\u%04x", r)...)
			default:
				out = utf8.AppendRune(out, r)
			}
			continue
		}

		switch r {
		case '"', '\'', '“', '”':
			separate()
			quote = r
			if r == '“' {
				quote = '”'
			}
			if top() == '}' && expectKey {
				keyStart = len(out)
			}
			out = append(out, '"')
		case '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				for i+1 < len(runes) && runes[i+1] != '\n' {
					i++
				}
			} else if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
					i++
				}
				i++
			}
		case '`':
			// Stray code fence markers.
		case '{':
			separate()
			stack = append(stack, '}')
			expectKey = true
			out = append(out, '{')
		case '[':
			separate()
			stack = append(stack, ']')
			out = append(out, '[')
		case '}', ']':
			if !containsRune(stack, r) {
				continue
			}
			out = trimTrailingComma(out)
			for top() != r {
				out = utf8.AppendRune(out, top())
				stack = stack[:len(stack)-1]
			}
			out = utf8.AppendRune(out, r)
			stack = stack[:len(stack)-1]
			expectKey = false
			keyStart = -1
			if len(stack) == 0 {
				break walk
			}
		case ',':
			out = append(out, ',')
			if top() == '}' {
				expectKey = true
			}
		case ':':
			out = append(out, ':')
			expectKey = false
			keyStart = -1
		default:
			if r == '-' || r == 't' || r == 'f' || r == 'n' || (r >= '0' && r <= '9') {
				separate()
			}
			out = utf8.AppendRune(out, r)
		}
	}

	if quote != 0 {
		if escaped {
			out = out[:len(out)-1]
		}
		out = append(out, '"')
	}

	if len(stack) > 0 {
		if keyStart >= 0 && expectKey {
			// Truncated inside or right after a key: drop the key.
			out = out[:keyStart]
		}
		out = completeTrailingToken(out)
		out = trimTrailingComma(out)
		trimmed := strings.TrimRight(string(out), " \t\r\n")
		if strings.HasSuffix(trimmed, ":") {
			out = append([]byte(trimmed), "null"...)
		}
		for len(stack) > 0 {
			out = utf8.AppendRune(out, stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		}
	}

	repaired := string(out)
	if !json.Valid(out) {
		return repaired, fmt.Errorf("repair did not produce valid JSON")
	}
	return repaired, nil
}

// closesString reports whether r ends a string opened with quote. A single
// quote only closes when a separator follows, so apostrophes survive.
func closesString(quote, r rune, rest []rune) bool {
	switch quote {
	case '"':
		return r == '"'
	case '”':
		return r == '“' || r == '”'
	case '\'':
		if r != '\'' {
			return false
		}
		for _, next := range rest {
			switch next {
			case ' ', '\t', '\r', '\n':
				continue
			case ':', ',', '}', ']':
				return true
			}
			return false
		}
		return true
	}
	return false
}

// missingComma reports whether out ends with a complete value, so that a
// value starting next needs a separator first.
func missingComma(out []byte) bool {
	s := bytes.TrimRight(out, " \t\r\n")
	if len(s) == 0 {
		return false
	}
	switch c := s[len(s)-1]; {
	case c == '"' || c == '}' || c == ']':
		return true
	case c == '.' || c == '+' || c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		// A bare token only ends at whitespace.
		return len(s) < len(out)
	}
	return false
}

func containsRune(stack []rune, r rune) bool {
	for _, s := range stack {
		if s == r {
			return true
		}
	}
	return false
}

func trimTrailingComma(out []byte) []byte {
	s := strings.TrimRight(string(out), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		return []byte(strings.TrimRight(s[:len(s)-1], " \t\r\n"))
	}
	return out
}

// completeTrailingToken finishes or removes a bare literal or number cut off
// at the end of out.
func completeTrailingToken(out []byte) []byte {
	s := strings.TrimRight(string(out), " \t\r\n")
	word := trailingWordPattern.FindString(s)
	if word == "" {
		return out
	}
	head := s[:len(s)-len(word)]
	for _, lit := range []string{"true", "false", "null"} {
		if strings.HasPrefix(lit, word) {
			return []byte(head + lit)
		}
	}
	for w := word; w != ""; w = w[:len(w)-1] {
		if json.Valid([]byte(w)) {
			return []byte(head + w)
		}
	}
	return []byte(head + "null")
}
