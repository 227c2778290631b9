package model

import (
	"encoding/json"
	"testing"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Answer
		wantErr bool
	}{
		{"absent", "", Empty(), false},
		{"null", "null", Empty(), false},
		{"empty string", `""`, Empty(), false},
		{"empty list", `[]`, Empty(), false},
		{"option id", `"opt1"`, Single("opt1"), false},
		{"list", `["B","A"]`, Multiple("B", "A"), false},
		{"list with numbers", `["A", 2]`, Multiple("A", "2"), false},
		{"list of nulls", `[null, ""]`, Empty(), false},
		{"number", `5.0005`, Numeric(5.0005), false},
		{"zero is an answer", `0`, Numeric(0), false},
		{"negative number", ` -3 `, Numeric(-3), false},
		{"bool", `true`, Empty(), true},
		{"object", `{"a":1}`, Empty(), true},
		{"nested list", `[["A"]]`, Empty(), true},
		{"broken", `"abc`, Empty(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnswer([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAnswer(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseAnswer(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAnswerStringForm(t *testing.T) {
	tests := []struct {
		name string
		a    Answer
		want string
	}{
		{"single", Single("opt3"), "opt3"},
		{"list", Multiple("A", "B"), "A,B"},
		{"integer", Numeric(2), "2"},
		{"fraction", Numeric(0.5), "0.5"},
		{"empty", Empty(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnswerFloat(t *testing.T) {
	tests := []struct {
		name   string
		a      Answer
		want   float64
		wantOK bool
	}{
		{"numeric", Numeric(5), 5, true},
		{"numeric string", Single("5.0005"), 5.0005, true},
		{"padded", Single("  42 "), 42, true},
		{"trailing unit", Single("9.8 m/s"), 9.8, true},
		{"leading dot", Single(".5"), 0.5, true},
		{"exponent", Single("1e3"), 1000, true},
		{"dangling exponent", Single("2e"), 2, true},
		{"one-element list", Multiple("7"), 7, true},
		{"text", Single("abc"), 0, false},
		{"hex is not a number", Single("0x10"), 0, true},
		{"nan spelling", Single("NaN"), 0, false},
		{"sign only", Single("-"), 0, false},
		{"empty", Empty(), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.a.Float()
			if ok != tt.wantOK {
				t.Fatalf("Float() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Float() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswerJSON(t *testing.T) {
	type wrapper struct {
		A Answer `json:"a"`
	}
	for _, raw := range []string{`{"a":"x"}`, `{"a":["x","y"]}`, `{"a":1.25}`, `{"a":null}`} {
		var w wrapper
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			t.Fatalf("Unmarshal(%s): %v", raw, err)
		}
		out, err := json.Marshal(w)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(out) != raw {
			t.Errorf("round trip %s -> %s", raw, out)
		}
	}
}

func TestMultipleCopiesInput(t *testing.T) {
	ids := []string{"A", "B"}
	a := Multiple(ids...)
	ids[0] = "Z"
	if a.String() != "A,B" {
		t.Errorf("Multiple kept a reference to the caller's slice: %q", a.String())
	}
}
