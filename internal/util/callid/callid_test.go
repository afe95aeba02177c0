package callid

import (
	"strings"
	"testing"
)

func TestEnsureKeepsValidIDs(t *testing.T) {
	cases := []struct {
		name  string
		input string
		keep  bool
	}{
		{
			name:  "plain id kept",
			input: "call_123abcXYZ",
			keep:  true,
		},
		{
			name:  "provider id with dashes kept",
			input: "toolu-01A9xQ",
			keep:  true,
		},
		{
			name:  "colon form replaced",
			input: "***.TodoWrite:3",
			keep:  false,
		},
		{
			name:  "id with spaces replaced",
			input: "tool call 1",
			keep:  false,
		},
		{
			name:  "empty replaced",
			input: "",
			keep:  false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Ensure(tc.input)
			if tc.keep {
				if got != tc.input {
					t.Fatalf("expected %q to be kept, got %q", tc.input, got)
				}
				return
			}
			if got == tc.input {
				t.Fatalf("expected %q to be replaced", tc.input)
			}
			if !strings.HasPrefix(got, "call_") {
				t.Fatalf("generated ID missing prefix: %q", got)
			}
			if !Valid(got) {
				t.Fatalf("generated ID is not valid: %q", got)
			}
		})
	}
}

func TestEnsureTrimsWhitespace(t *testing.T) {
	if got := Ensure("  call_abc  "); got != "call_abc" {
		t.Fatalf("expected trimmed ID, got %q", got)
	}
}

func TestNewIsValid(t *testing.T) {
	if id := New(); !Valid(id) {
		t.Fatalf("New produced invalid ID %q", id)
	}
}
