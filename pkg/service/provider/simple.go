package provider

import (
	"context"

	"github.com/stamphq/iam-service/internal/credential"
)

const (
	TypeSimple          = "Simple"
	TypeClearTextSimple = "ClearTextSimple"
)

// SimpleProvider accepts any payload whose proofs carry valid == "true". It
// exists for integration smoke tests and as the reference implementation for
// provider authors.
type SimpleProvider struct{}

func (SimpleProvider) Type() string { return TypeSimple }

func (SimpleProvider) Verify(_ context.Context, payload credential.RequestPayload, _ Context) (*VerifiedResult, error) {
	if payload.Proofs["valid"] != "true" {
		return &VerifiedResult{Valid: false, Errors: []string{"Proof is not valid"}}, nil
	}
	return &VerifiedResult{
		Valid:  true,
		Record: map[string]string{"username": payload.Proofs["username"]},
	}, nil
}

// ClearTextSimpleProvider behaves like SimpleProvider but surfaces the
// verified username in the clear on the issued stamp's provider tag.
type ClearTextSimpleProvider struct{}

func (ClearTextSimpleProvider) Type() string { return TypeClearTextSimple }

func (ClearTextSimpleProvider) Verify(_ context.Context, payload credential.RequestPayload, _ Context) (*VerifiedResult, error) {
	if payload.Proofs["valid"] != "true" {
		return &VerifiedResult{Valid: false, Errors: []string{"Proof is not valid"}}, nil
	}
	username := payload.Proofs["username"]
	return &VerifiedResult{
		Valid:  true,
		Record: map[string]string{"username": username},
		PII:    "Username",
	}, nil
}
