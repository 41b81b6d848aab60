package credential

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/did"
)

// Verifier re-checks credentials presented back to the service: challenge
// credentials on verify requests and stamp credentials on attestation requests.
type Verifier struct {
	issuers *IssuerRegistry
}

// NewVerifier creates a credential verifier bound to the trusted issuer set.
func NewVerifier(issuers *IssuerRegistry) (*Verifier, error) {
	if issuers == nil {
		return nil, errors.New("issuer registry cannot be nil")
	}
	return &Verifier{issuers: issuers}, nil
}

// TrustedIssuer reports whether the credential's issuer is in the trusted set.
func (v *Verifier) TrustedIssuer(vc *VerifiableCredential) bool {
	return v.issuers.Trusted(vc.Issuer)
}

// VerifyCredential checks a credential's expiry and proof. The issuer's key
// material is derived from its DID, so verification needs no key lookup.
func (v *Verifier) VerifyCredential(_ context.Context, vc *VerifiableCredential) error {
	if vc == nil {
		return errors.New("credential cannot be nil")
	}
	expired, err := vc.Expired(time.Now())
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "checking credential expiry")
	}
	if expired {
		return errors.New("credential has expired")
	}
	if vc.Proof == nil {
		return errors.New("credential has no proof")
	}

	switch vc.Proof.Type {
	case ProofTypeEd25519:
		return v.verifyEd25519Proof(vc)
	case ProofTypeEIP712:
		return v.verifyEIP712Proof(vc)
	default:
		return errors.Errorf("unsupported proof type: %s", vc.Proof.Type)
	}
}

func (v *Verifier) verifyEd25519Proof(vc *VerifiableCredential) error {
	pubKey, err := did.Ed25519FromKey(vc.Issuer)
	if err != nil {
		return errors.Wrap(err, "resolving issuer key")
	}
	payload, err := vc.signingInput()
	if err != nil {
		return err
	}
	sig, err := base64.RawURLEncoding.DecodeString(vc.Proof.ProofValue)
	if err != nil {
		return errors.Wrap(err, "decoding proof value")
	}
	if !ed25519.Verify(pubKey, payload, sig) {
		return errors.New("invalid credential signature")
	}
	return nil
}

func (v *Verifier) verifyEIP712Proof(vc *VerifiableCredential) error {
	issuerAddress, err := did.AddressFromEthr(vc.Issuer)
	if err != nil {
		return errors.Wrap(err, "resolving issuer address")
	}
	payload, err := vc.signingInput()
	if err != nil {
		return err
	}
	sigHash, err := credentialSigningHash(crypto.Keccak256Hash(payload))
	if err != nil {
		return err
	}
	sig, err := hexutil.Decode(vc.Proof.ProofValue)
	if err != nil {
		return errors.Wrap(err, "decoding proof value")
	}
	if len(sig) != crypto.SignatureLength {
		return errors.Errorf("proof value is %d bytes, expected %d", len(sig), crypto.SignatureLength)
	}
	recoverable := make([]byte, crypto.SignatureLength)
	copy(recoverable, sig)
	if recoverable[64] >= 27 {
		recoverable[64] -= 27
	}
	recovered, err := crypto.SigToPub(sigHash, recoverable)
	if err != nil {
		return errors.Wrap(err, "recovering proof signer")
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(*recovered).Hex(), issuerAddress.Hex()) {
		return errors.New("proof signer does not match credential issuer")
	}
	return nil
}

// BanFilter drops credentials whose subjects are banned. It is an external
// collaborator boundary: implementations are expected to pass their input
// through unchanged on non-fatal errors.
type BanFilter interface {
	FilterBanned(ctx context.Context, credentials []*VerifiableCredential) ([]*VerifiableCredential, error)
}

// RevocationFilter drops credentials that have been revoked, with the same
// pass-through contract as BanFilter.
type RevocationFilter interface {
	FilterRevoked(ctx context.Context, credentials []*VerifiableCredential) ([]*VerifiableCredential, error)
}

// PassthroughFilter is the default ban and revocation filter, performing no
// filtering.
type PassthroughFilter struct{}

func (PassthroughFilter) FilterBanned(_ context.Context, credentials []*VerifiableCredential) ([]*VerifiableCredential, error) {
	return credentials, nil
}

func (PassthroughFilter) FilterRevoked(_ context.Context, credentials []*VerifiableCredential) ([]*VerifiableCredential, error) {
	return credentials, nil
}
