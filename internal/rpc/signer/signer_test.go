package signer

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	testPEM []byte
	testPub []byte
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, testPEM, testPub, err = GenerateKey(2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(nil, ""); !errors.Is(err, ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
	s, err := New(key(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if s.KeyID() != DefaultKeyID {
		t.Fatalf("key id = %q", s.KeyID())
	}
}

func TestSignWireFormat(t *testing.T) {
	s, _ := New(key(t), "k1")
	s.now = func() time.Time { return time.Date(2024, 3, 5, 7, 8, 9, 123456789, time.FixedZone("x", 3600)) }
	s.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 64))

	a, err := s.Sign("https://svc/_chatops", []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if a.Timestamp != "2024-03-05T06:08:09.123Z" {
		t.Fatalf("timestamp = %q", a.Timestamp)
	}
	raw, err := base64.StdEncoding.DecodeString(a.Nonce)
	if err != nil || len(raw) != 32 {
		t.Fatalf("nonce = %q (%d bytes, err %v)", a.Nonce, len(raw), err)
	}
	if want := "Signature keyid=k1,signature=" + a.Signature; a.Header != want {
		t.Fatalf("header = %q, want %q", a.Header, want)
	}

	h := http.Header{}
	a.Apply(h)
	got := FromHeaders(h)
	if got != a {
		t.Fatalf("FromHeaders = %+v, want %+v", got, a)
	}
}

func TestSignVerify(t *testing.T) {
	s, _ := New(key(t), "")
	body := []byte(`{"user":"u"}`)
	a, err := s.Sign("https://svc/m", body)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(s.Public(), "https://svc/m", a, body); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(s.Public(), "https://svc/other", a, body); err == nil {
		t.Fatal("verify should fail for a different url")
	}
	if err := Verify(s.Public(), "https://svc/m", a, []byte(`{}`)); err == nil {
		t.Fatal("verify should fail for a different body")
	}

	// GET requests sign an empty body.
	g, _ := s.Sign("https://svc", nil)
	if err := Verify(s.Public(), "https://svc", Auth{Nonce: g.Nonce, Timestamp: g.Timestamp, Header: g.Header}, nil); err != nil {
		t.Fatalf("verify via header: %v", err)
	}
}

func TestNoncesAreFresh(t *testing.T) {
	s, _ := New(key(t), "")
	a, _ := s.Sign("u", nil)
	b, _ := s.Sign("u", nil)
	if a.Nonce == b.Nonce {
		t.Fatal("nonce reused")
	}
}

func TestParseHeader(t *testing.T) {
	id, sig, err := ParseHeader("Signature keyid=hubotkey,signature=YWJj==")
	if err != nil || id != "hubotkey" || sig != "YWJj==" {
		t.Fatalf("got %q %q %v", id, sig, err)
	}
	for _, bad := range []string{"", "Bearer x", "Signature keyid=a", "Signature junk"} {
		if _, _, err := ParseHeader(bad); err == nil {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestKeySourceResolve(t *testing.T) {
	key(t)
	t.Setenv("RPCBOT_TEST_KEY", "")
	if _, err := (KeySource{Env: "RPCBOT_TEST_KEY"}).Resolve(); !errors.Is(err, ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}

	// Single-line env values with escaped newlines.
	t.Setenv("RPCBOT_TEST_KEY", strings.ReplaceAll(string(testPEM), "\n", `\n`))
	k, err := (KeySource{Env: "RPCBOT_TEST_KEY"}).Resolve()
	if err != nil || !k.Equal(testKey) {
		t.Fatalf("env key: %v", err)
	}

	t.Setenv("RPCBOT_TEST_KEY", "")
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, testPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	k, err = (KeySource{Env: "RPCBOT_TEST_KEY", File: path}).Resolve()
	if err != nil || !k.Equal(testKey) {
		t.Fatalf("file key: %v", err)
	}

	pub, err := LoadPublicKey(string(testPub))
	if err != nil || !pub.Equal(&testKey.PublicKey) {
		t.Fatalf("public key: %v", err)
	}
	if _, err := LoadKey("not pem"); err == nil {
		t.Fatal("garbage should not load")
	}
}
