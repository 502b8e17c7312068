package telegram

import (
	"strings"
	"testing"
)

func TestRoomRoundTrip(t *testing.T) {
	tests := []struct {
		chat   int64
		thread int
		room   string
	}{
		{chat: -100123, room: "-100123"},
		{chat: 42, thread: 7, room: "42/7"},
	}
	for _, tt := range tests {
		if got := RoomID(tt.chat, tt.thread); got != tt.room {
			t.Fatalf("RoomID = %q, want %q", got, tt.room)
		}
		c, th, err := ParseRoom(tt.room)
		if err != nil || c != tt.chat || th != tt.thread {
			t.Fatalf("ParseRoom(%q) = %d, %d, %v", tt.room, c, th, err)
		}
	}
	for _, bad := range []string{"", "abc", "1/x"} {
		if _, _, err := ParseRoom(bad); err == nil {
			t.Fatalf("ParseRoom(%q) should fail", bad)
		}
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split = %q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("hard split = %q", got)
	}
}

func TestSnippetName(t *testing.T) {
	if got := snippetName("deploy.logs tail"); got != "deploy.logs_tail.txt" {
		t.Fatalf("name = %q", got)
	}
	if got := snippetName("  "); got != "output.txt" {
		t.Fatalf("empty name = %q", got)
	}
}
