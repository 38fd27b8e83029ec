package config

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeSignalURL(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8790", "ws://127.0.0.1:8790/ws"},
		{"wss://rv.example.net/ws", "wss://rv.example.net/ws"},
		{"https://rv.example.net/anything", "wss://rv.example.net/ws"},
		{"http://localhost:8790/", "ws://localhost:8790/ws"},
		{"  wss://rv.example.net  ", "wss://rv.example.net/ws"},
		{"ftp://rv.example.net", "wss://rv.example.net/ws"},
	}
	for _, tc := range testCases {
		got, err := NormalizeSignalURL(tc.in)
		if err != nil {
			t.Errorf("NormalizeSignalURL(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeSignalURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "not a url", "rv.example.net"} {
		if _, err := NormalizeSignalURL(bad); err == nil {
			t.Errorf("NormalizeSignalURL(%q) accepted", bad)
		}
	}
}

func TestValidate(t *testing.T) {
	code := strings.Repeat("ab", 32)

	host := Config{Role: RoleHost, LANPort: 25565}
	if err := host.Validate(); err != nil {
		t.Fatalf("host config: %v", err)
	}
	if host.SignalURL != DefaultSignalURL {
		t.Fatalf("SignalURL = %q", host.SignalURL)
	}

	join := Config{Role: RoleJoin, Code: code, SignalURL: "wss://rv.example.net"}
	if err := join.Validate(); err != nil {
		t.Fatalf("join config: %v", err)
	}
	if join.SignalURL != "wss://rv.example.net/ws" {
		t.Fatalf("SignalURL = %q", join.SignalURL)
	}

	testCases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no role", Config{}, ErrInvalidRole},
		{"host without port", Config{Role: RoleHost}, ErrInvalidPort},
		{"host port too large", Config{Role: RoleHost, LANPort: 70000}, ErrInvalidPort},
		{"join without code", Config{Role: RoleJoin}, ErrMissingCode},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}

	bad := Config{Role: RoleJoin, Code: "xyz"}
	if err := bad.Validate(); err == nil {
		t.Fatal("malformed code accepted")
	}
}
