package verification

import (
	"fmt"

	"github.com/stamphq/iam-service/internal/credential"
)

// VerifyRequest is the body of a verify call: the challenge credential this
// service previously issued plus the subject's payload, and optionally a
// delegated session proof in lieu of a raw wallet signature.
type VerifyRequest struct {
	Challenge       *credential.VerifiableCredential `json:"challenge" validate:"required"`
	Payload         credential.RequestPayload        `json:"payload"`
	SignedChallenge *credential.SignedChallenge      `json:"signedChallenge,omitempty"`
}

// TypeOutcome is the per-stamp-type result of a verification run.
type TypeOutcome struct {
	Type  string
	Valid bool
	// Errors holds the provider's reasons when Valid is false.
	Errors []string
	// Code is the HTTP status a failed outcome maps to.
	Code int
	// Record and Credential are set on success.
	Record     map[string]string
	Credential *credential.VerifiableCredential
}

// CheckOutcome is the per-type result of a check call. No credential is minted.
type CheckOutcome struct {
	Type  string `json:"type"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Rejection is a verification failure that maps to a specific HTTP status.
type Rejection struct {
	Status int
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s (status %d)", r.Reason, r.Status)
}

func reject(status int, reason string) *Rejection {
	return &Rejection{Status: status, Reason: reason}
}
