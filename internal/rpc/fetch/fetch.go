// Package fetch performs signed schema fetches and applies the result to the registry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rpcbot/internal/rpc/chattext"
	"rpcbot/internal/rpc/registry"
	"rpcbot/internal/rpc/signer"
	logx "rpcbot/pkg/logx"
)

const (
	// MaxBodyBytes caps a schema document.
	MaxBodyBytes = 4 << 20

	DefaultTimeout = 150 * time.Second
)

var errTooLarge = fmt.Errorf("schema document exceeds %d bytes", MaxBodyBytes)

const versionStatus = "Schema declares a version; add this endpoint with an explicit prefix (rpc add <url> --prefix <name>)."

// Signer produces auth headers for a request.
type Signer interface {
	Sign(url string, body []byte) (signer.Auth, error)
}

// Registry is the part of the endpoint registry the fetcher writes to.
type Registry interface {
	Get(url string) (registry.Endpoint, bool)
	Exists(url string) bool
	Set(ctx context.Context, url string, s registry.Snapshot) error
	SetStatus(ctx context.Context, url, status string, at time.Time) error
}

// Applier recompiles an endpoint's commands after its schema changed.
type Applier interface {
	Apply(ctx context.Context, url string) error
}

type ApplierFunc func(ctx context.Context, url string) error

func (f ApplierFunc) Apply(ctx context.Context, url string) error { return f(ctx, url) }

type Options struct {
	Client  *http.Client  // optional; built from Timeout when nil
	Timeout time.Duration // default: DefaultTimeout
}

type Fetcher struct {
	client *http.Client
	sign   Signer
	reg    Registry
	apply  Applier
	log    logx.Logger
	now    func() time.Time
}

func New(opt Options, sign Signer, reg Registry, apply Applier, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	client := opt.Client
	if client == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if apply == nil {
		apply = ApplierFunc(func(context.Context, string) error { return nil })
	}
	return &Fetcher{
		client: client,
		sign:   sign,
		reg:    reg,
		apply:  apply,
		log:    log.With(logx.String("comp", "rpc.fetch")),
		now:    time.Now,
	}
}

// Fetch retrieves url's schema and, when valid, applies it.
//
// Failures are recorded as the endpoint status. A nil error means the schema
// was applied.
func (f *Fetcher) Fetch(ctx context.Context, url string) error {
	if !f.reg.Exists(url) {
		return ErrEndpointRemoved
	}
	start := f.now()

	body, status, err := f.get(ctx, url)
	if !f.reg.Exists(url) {
		return ErrEndpointRemoved
	}
	if errors.Is(err, errTooLarge) {
		f.record(ctx, url, err.Error())
		return &SchemaError{URL: url, Reason: "oversized schema document", Err: err}
	}
	if err != nil {
		te := &TransportError{URL: url, StatusCode: status, Err: err}
		f.record(ctx, url, te.status())
		return te
	}

	doc, err := parseDocument(body)
	if err != nil {
		f.record(ctx, url, "Invalid schema: "+err.Error())
		return &SchemaError{URL: url, Reason: "invalid schema document", Err: err}
	}

	ep, ok := f.reg.Get(url)
	if !ok {
		return ErrEndpointRemoved
	}
	if doc.versioned() && ep.Prefix == "" {
		f.record(ctx, url, versionStatus)
		return &SchemaError{URL: url, Reason: "versioned schema requires a prefix"}
	}

	if err := f.reg.Set(ctx, url, doc.snapshot()); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrEndpointRemoved
		}
		return fmt.Errorf("store schema: %w", err)
	}
	if err := f.apply.Apply(ctx, url); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrEndpointRemoved
		}
		f.record(ctx, url, "apply failed: "+err.Error())
		return fmt.Errorf("apply schema: %w", err)
	}

	n := len(doc.Methods)
	f.record(ctx, url, FoundStatus(n))
	f.log.Debug("schema applied",
		logx.String("url", url),
		logx.String("namespace", doc.Namespace),
		logx.Int("methods", n),
		logx.Duration("took", f.now().Sub(start)),
	)
	return nil
}

// FoundStatus is the success status for n methods.
func FoundStatus(n int) string {
	if n == 1 {
		return "Found 1 method."
	}
	return fmt.Sprintf("Found %d methods.", n)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	auth, err := f.sign.Sign(url, nil)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	auth.Apply(req.Header)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, resp.StatusCode, errors.New(msg)
	}
	if len(body) > MaxBodyBytes {
		return nil, resp.StatusCode, errTooLarge
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) record(ctx context.Context, url, status string) {
	err := f.reg.SetStatus(ctx, url, chattext.Clip(status, chattext.StatusMax), f.now())
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		f.log.Warn("status write failed", logx.String("url", url), logx.Err(err))
	}
}
