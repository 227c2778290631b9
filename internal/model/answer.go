package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// AnswerKind identifies which variant an Answer holds.
type AnswerKind int

const (
	// AnswerEmpty means no answer: absent, null, "" or [].
	AnswerEmpty AnswerKind = iota
	// AnswerSingle holds one option id (or free text).
	AnswerSingle
	// AnswerMultiple holds a list of option ids.
	AnswerMultiple
	// AnswerNumeric holds a number.
	AnswerNumeric
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerSingle:
		return "single"
	case AnswerMultiple:
		return "multiple"
	case AnswerNumeric:
		return "numeric"
	default:
		return "empty"
	}
}

// Answer is the shape shared by a question's stored answer, an answer-key
// entry and a student's selected answer. The zero value is empty.
type Answer struct {
	kind     AnswerKind
	single   string
	multiple []string
	numeric  float64
}

// Empty returns the empty answer.
func Empty() Answer { return Answer{} }

// Single returns a single-option answer. An empty string yields the empty answer.
func Single(id string) Answer {
	if id == "" {
		return Answer{}
	}
	return Answer{kind: AnswerSingle, single: id}
}

// Multiple returns a multi-option answer. No ids yields the empty answer.
func Multiple(ids ...string) Answer {
	if len(ids) == 0 {
		return Answer{}
	}
	return Answer{kind: AnswerMultiple, multiple: slices.Clone(ids)}
}

// Numeric returns a numeric answer.
func Numeric(v float64) Answer {
	return Answer{kind: AnswerNumeric, numeric: v}
}

// Kind reports the variant.
func (a Answer) Kind() AnswerKind { return a.kind }

// IsEmpty reports whether the answer counts as "not given".
func (a Answer) IsEmpty() bool { return a.kind == AnswerEmpty }

// Values returns the answer as a list of option ids. Non-list answers become a
// one-element list; the empty answer returns nil.
func (a Answer) Values() []string {
	switch a.kind {
	case AnswerMultiple:
		return slices.Clone(a.multiple)
	case AnswerEmpty:
		return nil
	default:
		return []string{a.String()}
	}
}

// String returns the canonical string form used for single-option comparison.
// Lists are joined with commas, numbers use the shortest decimal form.
func (a Answer) String() string {
	switch a.kind {
	case AnswerSingle:
		return a.single
	case AnswerMultiple:
		return strings.Join(a.multiple, ",")
	case AnswerNumeric:
		return formatNumber(a.numeric)
	default:
		return ""
	}
}

// Float parses the answer as a number. Strings are parsed leniently: leading
// whitespace is skipped and trailing garbage after a valid number is ignored.
func (a Answer) Float() (float64, bool) {
	switch a.kind {
	case AnswerNumeric:
		if math.IsNaN(a.numeric) {
			return 0, false
		}
		return a.numeric, true
	case AnswerEmpty:
		return 0, false
	default:
		return parseLeadingFloat(a.String())
	}
}

// Equal reports structural equality.
func (a Answer) Equal(b Answer) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case AnswerSingle:
		return a.single == b.single
	case AnswerMultiple:
		return slices.Equal(a.multiple, b.multiple)
	case AnswerNumeric:
		return a.numeric == b.numeric
	default:
		return true
	}
}

// ParseAnswer decodes a stored JSON value into an Answer.
//
// null and absent values, "" and [] decode to the empty answer. Array elements
// may be strings or numbers. Objects and booleans are rejected.
func ParseAnswer(raw []byte) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Answer{}, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("decode string answer: %w", err)
		}
		return Single(s), nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Answer{}, fmt.Errorf("decode list answer: %w", err)
		}
		ids := make([]string, 0, len(elems))
		for _, e := range elems {
			v, err := ParseAnswer(e)
			if err != nil {
				return Answer{}, err
			}
			switch v.kind {
			case AnswerSingle, AnswerNumeric:
				ids = append(ids, v.String())
			case AnswerEmpty:
				// null entries and "" carry no option id
			default:
				return Answer{}, fmt.Errorf("nested list in answer")
			}
		}
		return Multiple(ids...), nil
	case 't', 'f', '{':
		return Answer{}, fmt.Errorf("unsupported answer shape %q", truncate(string(raw), 32))
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Answer{}, fmt.Errorf("decode numeric answer: %w", err)
		}
		return Numeric(f), nil
	}
}

// MarshalJSON encodes the answer in its natural JSON shape.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case AnswerSingle:
		return json.Marshal(a.single)
	case AnswerMultiple:
		return json.Marshal(a.multiple)
	case AnswerNumeric:
		if math.IsNaN(a.numeric) || math.IsInf(a.numeric, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(a.numeric)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes via ParseAnswer.
func (a *Answer) UnmarshalJSON(data []byte) error {
	v, err := ParseAnswer(data)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseLeadingFloat accepts the longest decimal prefix of s, the way
// browsers parse user-typed numbers ("5.0 m" -> 5). Hex, "inf" and "nan"
// spellings are not numbers here.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := false
	for i < len(s) && isDigit(s[i]) {
		i++
		digits = true
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits = true
		}
	}
	if !digits {
		return 0, false
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
