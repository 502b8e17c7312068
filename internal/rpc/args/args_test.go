package args

import (
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantRest  string
		wantFlags map[string]string
	}{
		{name: "no flags", in: "deploy app", wantRest: "deploy app", wantFlags: map[string]string{}},
		{name: "bare flag", in: "deploy app --force", wantRest: "deploy app", wantFlags: map[string]string{"force": True}},
		{
			name:      "value with spaces",
			in:        "deploy app --env prod --note ship it now",
			wantRest:  "deploy app",
			wantFlags: map[string]string{"env": "prod", "note": "ship it now"},
		},
		{
			name:      "leftmost duplicate wins",
			in:        "x --env a --env b",
			wantRest:  "x",
			wantFlags: map[string]string{"env": "a"},
		},
		{name: "leading flag is not a span", in: "--env prod", wantRest: "--env prod", wantFlags: map[string]string{}},
		{name: "only flags", in: " --a 1", wantRest: "", wantFlags: map[string]string{"a": "1"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rest, flags := Extract(tt.in)
			if rest != tt.wantRest {
				t.Fatalf("rest = %q, want %q", rest, tt.wantRest)
			}
			if diff := cmp.Diff(tt.wantFlags, flags); diff != "" {
				t.Fatalf("flags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	in := map[string]string{"b": "two words", "a": True, "c": "3"}
	s := Format(in)
	if s != " --a --b two words --c 3" {
		t.Fatalf("Format = %q", s)
	}
	rest, out := Extract("cmd" + s)
	if rest != "cmd" {
		t.Fatalf("rest = %q", rest)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
	if Format(nil) != "" {
		t.Fatal("empty map should format to empty string")
	}
}

func TestMatcherSuffixAcceptsTrailingFlags(t *testing.T) {
	re := regexp.MustCompile(`^deploy (?P<app>\w+)` + MatcherSuffix() + `*$`)
	for _, s := range []string{"deploy web", "deploy web --force", "deploy web --env prod --force"} {
		if !re.MatchString(s) {
			t.Fatalf("%q should match", s)
		}
	}
	if re.MatchString("deploy web now") {
		t.Fatal("unstructured trailing text should not match")
	}
}
