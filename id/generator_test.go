package id

import (
	"strings"
	"testing"
)

func TestClientID_Stable(t *testing.T) {
	first := ClientID()
	second := ClientID()

	if first == "" {
		t.Fatal("empty client ID")
	}
	if first != second {
		t.Fatalf("client ID not stable within process: %q vs %q", first, second)
	}
}

func TestClientID_Shape(t *testing.T) {
	id := ClientID()

	if strings.ContainsAny(id, " \t\n") {
		t.Fatalf("client ID contains whitespace: %q", id)
	}
	if parts := strings.Split(id, "_"); len(parts) < 2 {
		t.Fatalf("client ID missing separators: %q", id)
	}
}
