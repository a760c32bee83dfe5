package archive

import "testing"

func TestKeyLayout(t *testing.T) {
	got := Key("abc-123", 4)
	want := "conversations/abc-123/turn-4.webm"
	if got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}
