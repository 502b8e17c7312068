package card

import "testing"

func TestBuilder(t *testing.T) {
	got := New().
		Blank().
		Title("📡", "endpoints").
		KV("url", "https://a").
		KV("prefix", "").
		Indent("Found 2 methods.").
		Bullets("one", " ", "two").
		Blank().
		String()
	want := "📡 endpoints\n• url: https://a\n• prefix\n    Found 2 methods.\n• one\n• two"
	if got != want {
		t.Fatalf("card = %q, want %q", got, want)
	}
}

func TestZeroBuilder(t *testing.T) {
	var b Builder
	if b.Title("", " ").String() != "" {
		t.Fatal("empty title should be skipped")
	}
}
