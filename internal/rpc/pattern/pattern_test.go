package pattern

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInvocationPrefix(t *testing.T) {
	if got := InvocationPrefix("hubot", ""); got != `\s*[@]?hubot[:,]?\s*` {
		t.Fatalf("no alias = %q", got)
	}
	if got := InvocationPrefix("hubot", "!"); got != `\s*[@]?(?:![:,]?|hubot[:,]?)\s*` {
		t.Fatalf("alias = %q", got)
	}
	if got := InvocationPrefix("bot.v2", "$"); got != `\s*[@]?(?:\$[:,]?|bot\.v2[:,]?)\s*` {
		t.Fatalf("quoted = %q", got)
	}
}

func TestCompileMatchesAddressedInvocations(t *testing.T) {
	re, err := Compile("^foo$", InvocationPrefix("hubot", ""), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"hubot foo", "@hubot: foo", "Hubot, FOO", "  hubot foo --x 1"} {
		if !re.MatchString(s) {
			t.Errorf("%q should match", s)
		}
	}
	for _, s := range []string{"foo", "hubot foo bar", "hubot foofoo", "say hubot foo"} {
		if re.MatchString(s) {
			t.Errorf("%q should not match", s)
		}
	}
}

func TestCompileWithEndpointPrefix(t *testing.T) {
	inv := InvocationPrefix("hubot", "!")
	re, err := Compile(`deploy (?P<app>\S+)(?: to (?<env>\S+))?`, inv, "ops.")
	if err != nil {
		t.Fatal(err)
	}
	if re.MatchString("hubot deploy web") {
		t.Fatal("missing endpoint prefix should not match")
	}
	if re.MatchString("hubot opsx deploy web") {
		t.Fatal("endpoint prefix must be matched literally")
	}

	got := Captures(re, "!ops. deploy web to prod --force")
	if diff := cmp.Diff(map[string]string{"app": "web", "env": "prod"}, got); diff != "" {
		t.Fatalf("captures (-want +got):\n%s", diff)
	}
	got = Captures(re, "hubot: ops. deploy web")
	if diff := cmp.Diff(map[string]string{"app": "web"}, got); diff != "" {
		t.Fatalf("optional group should be absent (-want +got):\n%s", diff)
	}
	if Captures(re, "nope") != nil {
		t.Fatal("non-matching text should return nil")
	}
}

func TestCompileKeepsAlternationAnchored(t *testing.T) {
	re, err := Compile("a|b", InvocationPrefix("hubot", ""), "")
	if err != nil {
		t.Fatal(err)
	}
	if re.MatchString("xb") || !re.MatchString("hubot b") {
		t.Fatal("alternation escaped the anchors")
	}
}

func TestCompileError(t *testing.T) {
	if _, err := Compile("(unclosed", InvocationPrefix("hubot", ""), ""); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestCompileHelp(t *testing.T) {
	re, err := CompileHelp("deploy.ops", InvocationPrefix("hubot", ""))
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("hubot deploy.ops") || re.MatchString("hubot deployXops") {
		t.Fatal("help body should be literal")
	}
}
