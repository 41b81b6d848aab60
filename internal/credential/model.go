// Package credential holds the verifiable credential model used across the
// service, the issuers that sign credentials, and the verification boundary
// that re-checks credentials presented back to the service.
package credential

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/did"
)

const (
	// DefaultContext is the W3C credentials context applied to all issued credentials.
	DefaultContext = "https://www.w3.org/2018/credentials/v1"

	// TypeVerifiableCredential and TypeStamp are the credential type markers.
	TypeVerifiableCredential = "VerifiableCredential"
	TypeStamp                = "Stamp"

	// ProofTypeEd25519 is the linked-data proof type for the default issuer.
	ProofTypeEd25519 = "Ed25519Signature2018"
	// ProofTypeEIP712 is the typed-data proof type for the EIP-712 issuer.
	ProofTypeEIP712 = "EthereumEip712Signature2021"

	// SignatureTypeEIP712 selects the EIP-712 issuer on challenge and verify requests.
	SignatureTypeEIP712 = "EIP712"

	// HashVersion prefixes record hashes embedded in credential subjects.
	HashVersion = "v0.0.0"

	// ChallengeExpiresIn bounds how long an issued challenge credential is accepted.
	ChallengeExpiresIn = 5 * time.Minute
	// StampExpiresIn is the validity window of an issued stamp credential.
	StampExpiresIn = 90 * 24 * time.Hour
)

// CredentialSubject is the claims object of a credential. It is kept as a map
// so provider records can merge arbitrary fields into issued subjects.
type CredentialSubject map[string]any

func (cs CredentialSubject) str(key string) string {
	if v, ok := cs[key].(string); ok {
		return v
	}
	return ""
}

// ID returns the subject id claim, a did:pkh identifier for stamps.
func (cs CredentialSubject) ID() string { return cs.str("id") }

// Provider returns the provider tag claim.
func (cs CredentialSubject) Provider() string { return cs.str("provider") }

// Address returns the account address claim of a challenge credential.
func (cs CredentialSubject) Address() string { return cs.str("address") }

// Challenge returns the challenge claim of a challenge credential. A non-string
// claim yields the empty string, which no signature can verify against.
func (cs CredentialSubject) Challenge() string { return cs.str("challenge") }

// Hash returns the record hash claim of a stamp credential.
func (cs CredentialSubject) Hash() string { return cs.str("hash") }

// Proof is a credential proof, either linked-data (ed25519) or EIP-712 typed data.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created,omitempty"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	VerificationMethod string `json:"verificationMethod,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`

	// EIP712Domain is present on typed-data proofs so relying parties can
	// reconstruct the signing payload.
	EIP712Domain *EIP712DomainSpec `json:"eip712Domain,omitempty"`
}

// EIP712DomainSpec carries the typed-data parameters a proof was created with.
type EIP712DomainSpec struct {
	Domain      EIP712Domain            `json:"domain"`
	Types       map[string][]EIP712Type `json:"types"`
	PrimaryType string                  `json:"primaryType"`
}

// EIP712Domain is the wire form of a typed-data signing domain.
type EIP712Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EIP712Type is one field of a typed-data struct definition.
type EIP712Type struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VerifiableCredential is a W3C-style credential. Both challenge credentials
// and issued stamps use this shape.
type VerifiableCredential struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate"`
	ExpirationDate    string            `json:"expirationDate,omitempty"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
	Proof             *Proof            `json:"proof,omitempty"`
}

// SubjectAddress extracts the account address from the credential's subject id.
func (vc *VerifiableCredential) SubjectAddress() (string, error) {
	return did.AddressFromPKH(vc.CredentialSubject.ID())
}

// Expired reports whether the credential's expirationDate has passed.
func (vc *VerifiableCredential) Expired(now time.Time) (bool, error) {
	if vc.ExpirationDate == "" {
		return false, nil
	}
	expiry, err := time.Parse(time.RFC3339, vc.ExpirationDate)
	if err != nil {
		return false, errors.Wrapf(err, "parsing expirationDate<%s>", vc.ExpirationDate)
	}
	return now.After(expiry), nil
}

// signingInput is the canonical byte representation signed by both issuers:
// the credential serialized without its proof. Map keys marshal in sorted
// order, so the serialization is deterministic.
func (vc *VerifiableCredential) signingInput() ([]byte, error) {
	unsigned := *vc
	unsigned.Proof = nil
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling credential for signing")
	}
	return payload, nil
}

// RequestPayload is the body of verify and check requests.
type RequestPayload struct {
	Type          string            `json:"type,omitempty"`
	Types         []string          `json:"types,omitempty"`
	Address       string            `json:"address,omitempty"`
	Version       string            `json:"version,omitempty"`
	Proofs        map[string]string `json:"proofs,omitempty"`
	SignatureType string            `json:"signatureType,omitempty"`
	Signer        *SignerPayload    `json:"signer,omitempty"`
}

// SignerPayload names a delegated signer whose own challenge must verify
// before the payload address's providers are evaluated.
type SignerPayload struct {
	Address   string                `json:"address"`
	Signature string                `json:"signature,omitempty"`
	Challenge *VerifiableCredential `json:"challenge,omitempty"`
}

// SessionSignature is one signature envelope of a delegated session proof.
type SessionSignature struct {
	Protected string `json:"protected,omitempty"`
	Signature string `json:"signature"`
}

// SignedChallenge is a delegated session proof: a capability-authorization
// object binding an account signature to a specific challenge string, supplied
// in lieu of a raw wallet signature on the challenge.
type SignedChallenge struct {
	Signatures []SessionSignature `json:"signatures"`
	Payload    string             `json:"payload"`
	CID        []byte             `json:"cid,omitempty"`
	Cacao      []byte             `json:"cacao,omitempty"`
	Issuer     string             `json:"issuer"`
}
