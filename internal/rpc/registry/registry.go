// Package registry is the authoritative record of rpc endpoints, their
// prefixes and their last fetch status.
//
// State is loaded from storage on first use and written through on every
// mutation. Prefix uniqueness is the caller's job: consult URLForPrefix before
// AssignPrefix.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"rpcbot/internal/storage"
	logx "rpcbot/pkg/logx"
)

type Registry struct {
	store storage.Store
	log   logx.Logger

	once    sync.Once
	loadErr error

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	prefixes  map[string]string // prefix -> url
}

func New(store storage.Store, log logx.Logger) *Registry {
	if store == nil {
		store = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:     store,
		log:       log.With(logx.String("comp", "rpc.registry")),
		endpoints: map[string]*Endpoint{},
		prefixes:  map[string]string{},
	}
}

// Load forces the lazy load and reports its outcome. Later calls return the first result.
func (r *Registry) Load(ctx context.Context) error {
	r.once.Do(func() { r.loadErr = r.load(ctx) })
	return r.loadErr
}

func (r *Registry) ensure() error { return r.Load(context.Background()) }

func (r *Registry) load(ctx context.Context) error {
	raw, err := r.store.List(ctx, BucketEndpoints)
	if err != nil {
		return fmt.Errorf("load endpoints: %w", err)
	}
	prefixes, err := r.store.List(ctx, BucketPrefixes)
	if err != nil {
		return fmt.Errorf("load prefixes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for url, b := range raw {
		var ep Endpoint
		if err := json.Unmarshal(b, &ep); err != nil {
			r.log.Warn("skipping unreadable endpoint record", logx.String("url", url), logx.Err(err))
			continue
		}
		ep.URL = url
		r.endpoints[url] = &ep
	}
	for p, u := range prefixes {
		if _, ok := r.endpoints[string(u)]; ok {
			r.prefixes[p] = string(u)
		}
	}
	// Records written before the reverse index existed still carry their prefix.
	for url, ep := range r.endpoints {
		if ep.Prefix != "" {
			if _, ok := r.prefixes[ep.Prefix]; !ok {
				r.prefixes[ep.Prefix] = url
			}
		}
	}
	r.log.Debug("registry loaded", logx.Int("endpoints", len(r.endpoints)), logx.Int("prefixes", len(r.prefixes)))
	return nil
}

func (r *Registry) persistLocked(ctx context.Context, ep *Endpoint) error {
	b, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, BucketEndpoints, ep.URL, b)
}

// Add records url with empty state. It reports false when url was already known.
func (r *Registry) Add(ctx context.Context, url string) (bool, error) {
	if err := r.Load(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[url]; ok {
		return false, nil
	}
	ep := &Endpoint{URL: url}
	if err := r.persistLocked(ctx, ep); err != nil {
		return false, err
	}
	r.endpoints[url] = ep
	return true, nil
}

// Remove deletes url and its prefix assignment. It reports false when url was unknown.
func (r *Registry) Remove(ctx context.Context, url string) (bool, error) {
	if err := r.Load(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[url]
	if !ok {
		return false, nil
	}
	if err := r.store.Delete(ctx, BucketEndpoints, url); err != nil {
		return false, err
	}
	if ep.Prefix != "" && r.prefixes[ep.Prefix] == url {
		delete(r.prefixes, ep.Prefix)
		if err := r.store.Delete(ctx, BucketPrefixes, ep.Prefix); err != nil {
			r.log.Warn("prefix delete failed", logx.String("prefix", ep.Prefix), logx.Err(err))
		}
	}
	delete(r.endpoints, url)
	return true, nil
}

// AssignPrefix sets url's prefix, replacing any previous one. Duplicates are not rejected.
func (r *Registry) AssignPrefix(ctx context.Context, url, prefix string) error {
	if prefix == "" {
		return r.ClearPrefix(ctx, url)
	}
	return r.mutate(ctx, url, func(ep *Endpoint) error {
		if err := r.dropPrefixLocked(ctx, ep); err != nil {
			return err
		}
		if err := r.store.Put(ctx, BucketPrefixes, prefix, []byte(url)); err != nil {
			return err
		}
		ep.Prefix = prefix
		r.prefixes[prefix] = url
		return nil
	})
}

func (r *Registry) ClearPrefix(ctx context.Context, url string) error {
	return r.mutate(ctx, url, func(ep *Endpoint) error {
		return r.dropPrefixLocked(ctx, ep)
	})
}

func (r *Registry) dropPrefixLocked(ctx context.Context, ep *Endpoint) error {
	if ep.Prefix == "" {
		return nil
	}
	if r.prefixes[ep.Prefix] == ep.URL {
		if err := r.store.Delete(ctx, BucketPrefixes, ep.Prefix); err != nil {
			return err
		}
		delete(r.prefixes, ep.Prefix)
	}
	ep.Prefix = ""
	return nil
}

// Set replaces the schema-derived state of url.
func (r *Registry) Set(ctx context.Context, url string, s Snapshot) error {
	return r.mutate(ctx, url, func(ep *Endpoint) error {
		ep.Namespace = s.Namespace
		ep.Help = s.Help
		ep.Version = s.Version
		ep.Methods = s.Methods
		return nil
	})
}

// SetStatus records the outcome of the latest fetch attempt.
func (r *Registry) SetStatus(ctx context.Context, url, status string, at time.Time) error {
	return r.mutate(ctx, url, func(ep *Endpoint) error {
		ep.LastResponse = status
		ep.UpdatedAt = &at
		return nil
	})
}

// mutate applies fn to a working copy of url's record and commits it only if
// fn and the store write both succeed.
func (r *Registry) mutate(ctx context.Context, url string, fn func(ep *Endpoint) error) error {
	if err := r.Load(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.endpoints[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := r.persistLocked(ctx, &next); err != nil {
		return err
	}
	r.endpoints[url] = &next
	return nil
}

func (r *Registry) Get(url string) (Endpoint, bool) {
	if err := r.ensure(); err != nil {
		return Endpoint{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[url]
	if !ok {
		return Endpoint{}, false
	}
	return ep.clone(), true
}

func (r *Registry) Exists(url string) bool {
	if err := r.ensure(); err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.endpoints[url]
	return ok
}

// URLForPrefix returns the url owning prefix, if any.
func (r *Registry) URLForPrefix(prefix string) (string, bool) {
	if err := r.ensure(); err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.prefixes[prefix]
	return u, ok
}

// All returns every endpoint sorted by URL.
func (r *Registry) All() []Endpoint {
	if err := r.ensure(); err != nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
