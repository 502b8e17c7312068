package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"rpcbot/internal/rpc/registry"
	"rpcbot/internal/rpc/signer"
	logx "rpcbot/pkg/logx"
)

var (
	signOnce sync.Once
	testSign *signer.Signer
)

func testSigner(t *testing.T) *signer.Signer {
	t.Helper()
	signOnce.Do(func() {
		k, _, _, err := signer.GenerateKey(2048)
		if err != nil {
			panic(err)
		}
		testSign, _ = signer.New(k, "")
	})
	return testSign
}

const schemaTwo = `{"namespace":"deploy","help":"deploys","methods":{
  "ship":{"regex":"ship (?P<app>\\S+)","help":"ship an app","path":"ship"},
  "status":{"regex":"status"}}}`

func setup(t *testing.T, h http.HandlerFunc) (*Fetcher, *registry.Registry, string, *atomic.Int32) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	reg := registry.New(nil, logx.Nop())
	if _, err := reg.Add(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	var applied atomic.Int32
	f := New(Options{}, testSigner(t), reg, ApplierFunc(func(context.Context, string) error {
		applied.Add(1)
		return nil
	}), logx.Nop())
	return f, reg, srv.URL, &applied
}

func TestFetchAppliesSignedSchema(t *testing.T) {
	var gotAuth signer.Auth
	var gotURL, gotAccept string
	f, reg, url, applied := setup(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = signer.FromHeaders(r.Header)
		gotAccept = r.Header.Get("Accept")
		gotURL = "http://" + r.Host + r.URL.Path
		_, _ = w.Write([]byte(schemaTwo))
	})

	if err := f.Fetch(context.Background(), url); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAccept != "application/json" {
		t.Fatalf("accept = %q", gotAccept)
	}
	if err := signer.Verify(testSigner(t).Public(), url, gotAuth, nil); err != nil {
		t.Fatalf("signature did not verify for %s (server saw %s): %v", url, gotURL, err)
	}

	ep, _ := reg.Get(url)
	if ep.Namespace != "deploy" || len(ep.Methods) != 2 || ep.Methods["ship"].Path != "ship" {
		t.Fatalf("endpoint = %+v", ep)
	}
	if ep.LastResponse != "Found 2 methods." || ep.UpdatedAt == nil {
		t.Fatalf("status = %q at %v", ep.LastResponse, ep.UpdatedAt)
	}
	if applied.Load() != 1 {
		t.Fatalf("applied %d times", applied.Load())
	}
}

func TestFetchFoundOneMethod(t *testing.T) {
	f, reg, url, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"namespace":"x","methods":{"a":{"regex":"a"}}}`))
	})
	if err := f.Fetch(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	if ep, _ := reg.Get(url); ep.LastResponse != "Found 1 method." {
		t.Fatalf("status = %q", ep.LastResponse)
	}
}

func TestFetchTransportErrorRecordsEscapedStatus(t *testing.T) {
	f, reg, url, applied := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>\n<body>" + strings.Repeat("bad gateway ", 40) + "</body>\n</html>"))
	})
	err := f.Fetch(context.Background(), url)
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	ep, _ := reg.Get(url)
	if len([]rune(ep.LastResponse)) > 150 || strings.Contains(ep.LastResponse, "\n") || !strings.HasPrefix(ep.LastResponse, "HTTP 502") {
		t.Fatalf("status = %q", ep.LastResponse)
	}
	if applied.Load() != 0 {
		t.Fatal("failed fetch must not apply")
	}
}

func TestFetchSchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "json null", body: "null"},
		{name: "missing methods", body: `{"namespace":"x"}`},
		{name: "method without regex", body: `{"namespace":"x","methods":{"a":{"help":"h"}}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f, reg, url, applied := setup(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			var se *SchemaError
			if err := f.Fetch(context.Background(), url); !errors.As(err, &se) {
				t.Fatalf("err = %v, want SchemaError", err)
			}
			if ep, _ := reg.Get(url); !strings.HasPrefix(ep.LastResponse, "Invalid schema") {
				t.Fatalf("status = %q", ep.LastResponse)
			}
			if applied.Load() != 0 {
				t.Fatal("schema applied")
			}
		})
	}
}

func TestFetchVersionRequiresPrefix(t *testing.T) {
	f, reg, url, applied := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"namespace":"x","version":2,"methods":{"a":{"regex":"a"}}}`))
	})
	var se *SchemaError
	if err := f.Fetch(context.Background(), url); !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	ep, _ := reg.Get(url)
	if ep.LastResponse != versionStatus || len(ep.Methods) != 0 || applied.Load() != 0 {
		t.Fatalf("versioned schema applied without prefix: %+v", ep)
	}

	_ = reg.AssignPrefix(context.Background(), url, "x")
	if err := f.Fetch(context.Background(), url); err != nil {
		t.Fatalf("with prefix: %v", err)
	}
	if ep, _ := reg.Get(url); ep.Version != "2" {
		t.Fatalf("version = %q", ep.Version)
	}
}

func TestFetchEndpointRemovedMidFlight(t *testing.T) {
	var reg *registry.Registry
	var url string
	f, r, u, applied := setup(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = reg.Remove(context.Background(), url)
		_, _ = w.Write([]byte(schemaTwo))
	})
	reg, url = r, u

	if err := f.Fetch(context.Background(), url); !errors.Is(err, ErrEndpointRemoved) {
		t.Fatalf("err = %v", err)
	}
	if reg.Exists(url) || applied.Load() != 0 {
		t.Fatal("removed endpoint was touched")
	}
}

func TestFetchBodyCap(t *testing.T) {
	f, _, url, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"namespace":"` + strings.Repeat("x", MaxBodyBytes) + `","methods":{}}`))
	})
	var se *SchemaError
	if err := f.Fetch(context.Background(), url); !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
}
