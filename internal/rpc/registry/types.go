package registry

import (
	"errors"
	"maps"
	"time"
)

// Storage buckets.
const (
	BucketEndpoints = "endpoints"
	BucketPrefixes  = "prefixes"
)

var ErrNotFound = errors.New("endpoint not found")

// Method is one callable entry of an endpoint schema.
type Method struct {
	Name          string `json:"name"`
	Regex         string `json:"regex"`
	Help          string `json:"help,omitempty"`
	Path          string `json:"path,omitempty"`
	ErrorResponse string `json:"error_response,omitempty"`
}

// Endpoint is the registry record for one remote schema URL.
type Endpoint struct {
	URL          string            `json:"url"`
	Prefix       string            `json:"prefix,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	Help         string            `json:"help,omitempty"`
	Version      string            `json:"version,omitempty"`
	Methods      map[string]Method `json:"methods,omitempty"`
	LastResponse string            `json:"last_response,omitempty"`
	UpdatedAt    *time.Time        `json:"updated_at,omitempty"`
}

func (e Endpoint) clone() Endpoint {
	e.Methods = maps.Clone(e.Methods)
	if e.UpdatedAt != nil {
		t := *e.UpdatedAt
		e.UpdatedAt = &t
	}
	return e
}

// Snapshot is the schema-derived part of an endpoint, replaced wholesale on every successful fetch.
type Snapshot struct {
	Namespace string
	Help      string
	Version   string
	Methods   map[string]Method
}
