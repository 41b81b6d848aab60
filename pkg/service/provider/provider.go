// Package provider holds the registry of identity stamp providers. A provider
// inspects the proofs a subject submits for a given stamp type and decides
// whether the stamp may be issued, contributing a record that uniquely
// identifies the verified attribute.
package provider

import (
	"context"
	"strings"

	"github.com/stamphq/iam-service/internal/credential"
)

// Context carries mutable state shared across the providers evaluated for a
// single verification request. Providers run sequentially and may read what
// earlier providers wrote, e.g. a cached upstream lookup.
type Context map[string]any

// VerifiedResult is the outcome of a single provider evaluation.
type VerifiedResult struct {
	Valid bool
	// Errors holds human-readable reasons when Valid is false.
	Errors []string
	// Code optionally overrides the HTTP status a rejection maps to.
	Code int
	// Record uniquely identifies the verified attribute. It is hashed into
	// the credential, never embedded directly.
	Record map[string]string
	// PII, when non-empty, is appended to the stamp's provider tag and kept
	// in the clear on the credential subject.
	PII string
}

// Provider verifies one stamp type against the submitted payload.
type Provider interface {
	// Type is the stamp type tag this provider serves.
	Type() string
	// Verify decides whether the payload proves the attribute this provider
	// represents. It may read and write pctx, which is shared across all
	// providers evaluated for the request.
	Verify(ctx context.Context, payload credential.RequestPayload, pctx Context) (*VerifiedResult, error)
}

// Registry resolves stamp type tags to providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Type()] = p
	}
	return r
}

// Get resolves a stamp type tag. Tags may carry a "#"-suffixed variant
// (e.g. "ClearTextSimple#Username"); when no provider is registered under the
// full tag, the portion before the "#" is tried.
func (r *Registry) Get(tag string) (Provider, bool) {
	if p, ok := r.providers[tag]; ok {
		return p, true
	}
	if base, _, found := strings.Cut(tag, "#"); found {
		if p, ok := r.providers[base]; ok {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Type()] = p
}

// Types lists the registered stamp type tags.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}
