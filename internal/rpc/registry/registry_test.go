package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rpcbot/internal/storage"
	logx "rpcbot/pkg/logx"
)

func TestAddRemoveLifecycle(t *testing.T) {
	ctx := context.Background()
	r := New(storage.NewMemory(), logx.Nop())

	created, err := r.Add(ctx, "https://a")
	if err != nil || !created {
		t.Fatalf("add = %v %v", created, err)
	}
	if created, _ := r.Add(ctx, "https://a"); created {
		t.Fatal("second add should report existing")
	}
	if !r.Exists("https://a") {
		t.Fatal("endpoint should exist")
	}
	if err := r.AssignPrefix(ctx, "https://a", "ops"); err != nil {
		t.Fatal(err)
	}
	if u, ok := r.URLForPrefix("ops"); !ok || u != "https://a" {
		t.Fatalf("URLForPrefix = %q %v", u, ok)
	}

	removed, err := r.Remove(ctx, "https://a")
	if err != nil || !removed {
		t.Fatalf("remove = %v %v", removed, err)
	}
	if _, ok := r.URLForPrefix("ops"); ok {
		t.Fatal("prefix should be released on remove")
	}
	if _, ok := r.Get("https://a"); ok {
		t.Fatal("endpoint should be gone")
	}
	if err := r.SetStatus(ctx, "https://a", "x", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetStatus on removed = %v", err)
	}
}

func TestPrefixReassignment(t *testing.T) {
	ctx := context.Background()
	r := New(nil, logx.Nop())
	_, _ = r.Add(ctx, "https://a")

	_ = r.AssignPrefix(ctx, "https://a", "one")
	_ = r.AssignPrefix(ctx, "https://a", "two")
	if _, ok := r.URLForPrefix("one"); ok {
		t.Fatal("old prefix should be released")
	}
	ep, _ := r.Get("https://a")
	if ep.Prefix != "two" {
		t.Fatalf("prefix = %q", ep.Prefix)
	}

	if err := r.ClearPrefix(ctx, "https://a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.URLForPrefix("two"); ok {
		t.Fatal("cleared prefix still indexed")
	}
}

func TestSetReplacesSnapshotWholesale(t *testing.T) {
	ctx := context.Background()
	r := New(nil, logx.Nop())
	_, _ = r.Add(ctx, "https://a")

	_ = r.Set(ctx, "https://a", Snapshot{Namespace: "ns", Methods: map[string]Method{
		"a": {Name: "a", Regex: "a"},
		"b": {Name: "b", Regex: "b"},
	}})
	_ = r.Set(ctx, "https://a", Snapshot{Namespace: "ns2", Methods: map[string]Method{
		"c": {Name: "c", Regex: "c"},
	}})

	ep, _ := r.Get("https://a")
	if ep.Namespace != "ns2" || len(ep.Methods) != 1 {
		t.Fatalf("endpoint = %+v", ep)
	}

	// Returned values are copies.
	ep.Methods["z"] = Method{}
	again, _ := r.Get("https://a")
	if len(again.Methods) != 1 {
		t.Fatal("Get leaked internal map")
	}
}

func TestAllSorted(t *testing.T) {
	ctx := context.Background()
	r := New(nil, logx.Nop())
	for _, u := range []string{"https://c", "https://a", "https://b"} {
		_, _ = r.Add(ctx, u)
	}
	all := r.All()
	if len(all) != 3 || all[0].URL != "https://a" || all[2].URL != "https://c" {
		t.Fatalf("All = %+v", all)
	}
}

func TestStatePersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	r := New(st, logx.Nop())
	_, _ = r.Add(ctx, "https://a")
	_ = r.AssignPrefix(ctx, "https://a", "ops")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = r.SetStatus(ctx, "https://a", "Found 1 method.", at)
	_ = st.Close()

	st, err = storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	r = New(st, logx.Nop())
	ep, ok := r.Get("https://a")
	if !ok || ep.Prefix != "ops" || ep.LastResponse != "Found 1 method." || ep.UpdatedAt == nil || !ep.UpdatedAt.Equal(at) {
		t.Fatalf("reloaded = %+v ok=%v", ep, ok)
	}
	if u, ok := r.URLForPrefix("ops"); !ok || u != "https://a" {
		t.Fatal("prefix index not reloaded")
	}
}
