package swarm

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTopicIsRandomHex(t *testing.T) {
	a, err := NewTopic()
	if err != nil {
		t.Fatalf("NewTopic: %v", err)
	}
	b, err := NewTopic()
	if err != nil {
		t.Fatalf("NewTopic: %v", err)
	}
	if a == b {
		t.Fatal("two fresh topics are equal")
	}

	code := a.String()
	if len(code) != 64 {
		t.Fatalf("room code length = %d, want 64", len(code))
	}
	if code != strings.ToLower(code) {
		t.Fatalf("room code %q is not lowercase", code)
	}
}

func TestParseTopicRoundTrip(t *testing.T) {
	want, _ := NewTopic()

	got, err := ParseTopic(want.String())
	if err != nil {
		t.Fatalf("ParseTopic: %v", err)
	}
	if got != want {
		t.Fatal("round trip mismatch")
	}

	upper, err := ParseTopic(strings.ToUpper(want.String()))
	if err != nil || upper != want {
		t.Fatalf("uppercase code not accepted: %v", err)
	}
}

func TestParseTopicRejectsBadCodes(t *testing.T) {
	for _, code := range []string{
		"",
		"deadbeef",
		strings.Repeat("zz", 32),
		strings.Repeat("ab", 33),
	} {
		if _, err := ParseTopic(code); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ParseTopic(%q): expected ErrInvalidTopic, got %v", code, err)
		}
	}
}
