package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoURI is returned by Ref.Get when the ref was never given a URI to
// resolve (e.g. a field the control plane left absent, such as a Run that
// has no run_log yet).
var ErrNoURI = errors.New("model: ref has no resource uri")

// Fetcher retrieves a single JSON resource by path. internal/restclient.Client
// satisfies this interface; it is declared here (rather than imported) so
// this package has no dependency on the REST transport.
type Fetcher interface {
	Get(ctx context.Context, path string, out any) error
}

// Ref is a lazily-resolved handle to a control-plane sub-resource. The
// control plane represents these fields as a bare URI string in JSON; Ref
// holds that URI and fetches the full record through a Fetcher only when
// Get is called, caching the result for subsequent calls.
//
// This replaces the original Python model's __getattr__-driven lazy lookup
// (job_runner_worker/models.py's BaseRestModel) with an explicit, typed
// equivalent, per the design note in spec.md §9.
type Ref[T any] struct {
	uri   string
	value *T
}

// NewRef creates a Ref pointing at uri. An empty uri means the reference is
// absent (e.g. a Run with no run_log yet) — Get will return ErrNoURI.
func NewRef[T any](uri string) Ref[T] {
	return Ref[T]{uri: uri}
}

// URI returns the resource path this ref points at, or "" if absent.
func (r Ref[T]) URI() string {
	return r.uri
}

// IsZero reports whether the ref has no URI — the control plane left the
// field absent.
func (r Ref[T]) IsZero() bool {
	return r.uri == ""
}

// Loaded reports whether Get has already resolved this ref.
func (r *Ref[T]) Loaded() bool {
	return r.value != nil
}

// Get resolves the reference, fetching it through f on first call and
// returning the cached value on every subsequent call.
func (r *Ref[T]) Get(ctx context.Context, f Fetcher) (*T, error) {
	if r.value != nil {
		return r.value, nil
	}
	if r.uri == "" {
		return nil, ErrNoURI
	}
	var v T
	if err := f.Get(ctx, r.uri, &v); err != nil {
		return nil, fmt.Errorf("model: failed to resolve ref %s: %w", r.uri, err)
	}
	r.value = &v
	return r.value, nil
}

// MarshalJSON emits the bare URI string, matching the wire format of the
// field this Ref models.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.uri)
}

// UnmarshalJSON accepts either a bare URI string or null/empty string for an
// absent reference.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("model: ref expects a string uri: %w", err)
	}
	r.uri = s
	r.value = nil
	return nil
}
