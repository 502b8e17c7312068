package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "rpcbot/pkg/logx"
)

func openDriver(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	return st
}

func TestStoreBasics(t *testing.T) {
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver, filepath.Join(t.TempDir(), "bot.db"))
			defer st.Close()

			if _, ok, err := st.Get(ctx, "endpoints", "https://a"); err != nil || ok {
				t.Fatalf("get missing = ok:%v err:%v", ok, err)
			}
			if err := st.Put(ctx, "endpoints", "https://a", []byte(`{"n":1}`)); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := st.Put(ctx, "endpoints", "https://a", []byte(`{"n":2}`)); err != nil {
				t.Fatalf("put overwrite: %v", err)
			}
			if err := st.Put(ctx, "prefixes", "ops", []byte("https://a")); err != nil {
				t.Fatalf("put prefix: %v", err)
			}

			v, ok, err := st.Get(ctx, "endpoints", "https://a")
			if err != nil || !ok || string(v) != `{"n":2}` {
				t.Fatalf("get = %q ok:%v err:%v", v, ok, err)
			}

			all, err := st.List(ctx, "endpoints")
			if err != nil || len(all) != 1 {
				t.Fatalf("list = %v err:%v", all, err)
			}

			if err := st.Delete(ctx, "endpoints", "https://a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "endpoints", "https://a"); ok {
				t.Fatal("key still present after delete")
			}
			if all, _ := st.List(ctx, "prefixes"); len(all) != 1 {
				t.Fatalf("other bucket affected: %v", all)
			}

			if err := st.Put(ctx, "", "k", nil); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("empty bucket err = %v", err)
			}
			if err := st.AppendAudit(ctx, AuditEntry{Action: "rpc.add", Target: "https://a"}); err != nil {
				t.Fatalf("audit: %v", err)
			}
		})
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "bot.db")

			st := openDriver(t, driver, path)
			_ = st.Put(ctx, "endpoints", "https://a", []byte("A"))
			_ = st.Put(ctx, "endpoints", "https://b", []byte("B"))
			_ = st.Delete(ctx, "endpoints", "https://a")
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			st = openDriver(t, driver, path)
			defer st.Close()
			all, err := st.List(ctx, "endpoints")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 1 || string(all["https://b"]) != "B" {
				t.Fatalf("after reopen = %v", all)
			}
		})
	}
}

func TestFileStoreReplaysJournalWithoutSnapshot(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "bot.kv.journal.jsonl")
	f, err := os.Create(journal)
	if err != nil {
		t.Fatal(err)
	}
	enc := json.NewEncoder(f)
	_ = enc.Encode(kvRecord{Op: opPut, Bucket: "prefixes", Key: "ops", Value: []byte("https://a")})
	_ = enc.Encode(kvRecord{Op: opPut, Bucket: "prefixes", Key: "dev", Value: []byte("https://b")})
	_ = enc.Encode(kvRecord{Op: opDel, Bucket: "prefixes", Key: "dev"})
	_, _ = f.WriteString(`{"op":"put","bucket":"pre`) // torn tail
	_ = f.Close()

	st := openDriver(t, "file", filepath.Join(dir, "bot.db"))
	defer st.Close()
	all, _ := st.List(context.Background(), "prefixes")
	if len(all) != 1 || string(all["ops"]) != "https://a" {
		t.Fatalf("replayed = %v", all)
	}
}

func TestFileStoreAuditIsJSONLines(t *testing.T) {
	dir := t.TempDir()
	st := openDriver(t, "file", filepath.Join(dir, "bot.db"))
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = st.AppendAudit(context.Background(), AuditEntry{At: at, ActorID: "42", Action: "rpc.remove", Target: "https://a"})
	_ = st.AppendAudit(context.Background(), AuditEntry{At: at, Action: "rpc.add", Error: "boom"})
	_ = st.Close()

	f, err := os.Open(filepath.Join(dir, "bot.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[0].Action != "rpc.remove" || got[1].Error != "boom" || !got[0].At.Equal(at) {
		t.Fatalf("audit = %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDrv) {
		t.Fatalf("err = %v", err)
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestClosedMemoryStore(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "b", "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}
