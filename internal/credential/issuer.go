package credential

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/did"
)

// Issuer signs credentials on behalf of one of the service's identities.
type Issuer interface {
	// DID is the issuer identifier embedded in signed credentials.
	DID() string
	// SignatureType is the request signatureType this issuer serves.
	SignatureType() string
	// Sign attaches a proof to the credential. The credential's issuer field
	// is set by the caller and must match this issuer's DID.
	Sign(vc *VerifiableCredential) error
}

// Ed25519Issuer signs credentials with a did:key ed25519 identity. This is the
// default issuer when no signatureType is requested.
type Ed25519Issuer struct {
	key ed25519.PrivateKey
	did string
}

// NewEd25519Issuer builds the default issuer from a 32-byte seed.
func NewEd25519Issuer(seed []byte) (*Ed25519Issuer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Issuer{
		key: key,
		did: did.KeyForEd25519(key.Public().(ed25519.PublicKey)),
	}, nil
}

func (i *Ed25519Issuer) DID() string           { return i.did }
func (i *Ed25519Issuer) SignatureType() string { return "" }

func (i *Ed25519Issuer) Sign(vc *VerifiableCredential) error {
	payload, err := vc.signingInput()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(i.key, payload)
	vc.Proof = &Proof{
		Type:               ProofTypeEd25519,
		Created:            time.Now().UTC().Format(time.RFC3339),
		ProofPurpose:       "assertionMethod",
		VerificationMethod: i.did + "#" + i.did[len("did:key:"):],
		ProofValue:         base64.RawURLEncoding.EncodeToString(sig),
	}
	return nil
}

// EIP712Issuer signs credentials with a did:ethr secp256k1 identity, producing
// typed-data proofs that on-chain tooling can recover.
type EIP712Issuer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	did     string
}

// NewEIP712Issuer builds the EIP-712 issuer from a secp256k1 private key.
func NewEIP712Issuer(key *ecdsa.PrivateKey) *EIP712Issuer {
	address := crypto.PubkeyToAddress(key.PublicKey)
	return &EIP712Issuer{
		key:     key,
		address: address,
		did:     did.EthrForAddress(address),
	}
}

func (i *EIP712Issuer) DID() string           { return i.did }
func (i *EIP712Issuer) SignatureType() string { return SignatureTypeEIP712 }

func (i *EIP712Issuer) Sign(vc *VerifiableCredential) error {
	payload, err := vc.signingInput()
	if err != nil {
		return err
	}
	digest := crypto.Keccak256Hash(payload)
	sigHash, err := credentialSigningHash(digest)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(sigHash, i.key)
	if err != nil {
		return errors.Wrap(err, "signing credential digest")
	}
	sig[64] += 27
	vc.Proof = &Proof{
		Type:               ProofTypeEIP712,
		Created:            time.Now().UTC().Format(time.RFC3339),
		ProofPurpose:       "assertionMethod",
		VerificationMethod: i.did + "#controller",
		ProofValue:         hexutil.Encode(sig),
		EIP712Domain: &EIP712DomainSpec{
			Domain:      EIP712Domain{Name: credentialDomainName, Version: credentialDomainVersion},
			PrimaryType: credentialPrimaryType,
			Types: map[string][]EIP712Type{
				credentialPrimaryType: {{Name: "digest", Type: "bytes32"}},
			},
		},
	}
	return nil
}

const (
	credentialDomainName    = "VerifiableCredential"
	credentialDomainVersion = "1"
	credentialPrimaryType   = "Document"
)

// credentialSigningHash computes the EIP-712 sign hash over the keccak digest
// of the credential's canonical serialization.
func credentialSigningHash(digest common.Hash) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			credentialPrimaryType: {
				{Name: "digest", Type: "bytes32"},
			},
		},
		PrimaryType: credentialPrimaryType,
		Domain:      apitypes.TypedDataDomain{Name: credentialDomainName, Version: credentialDomainVersion},
		Message:     apitypes.TypedDataMessage{"digest": digest.Hex()},
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hashing credential signing domain")
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hashing credential message")
	}
	raw := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(raw), nil
}

// IssuerRegistry holds the configured issuers and the trusted-issuer set
// credential verification checks against.
type IssuerRegistry struct {
	defaultIssuer Issuer
	eip712Issuer  Issuer
	trusted       map[string]struct{}
}

// NewIssuerRegistry builds a registry from the configured issuers. Both issuer
// DIDs are trusted; extraTrusted allows additional issuer DIDs (e.g. rotated
// keys still in flight) to be accepted on verification.
func NewIssuerRegistry(defaultIssuer, eip712Issuer Issuer, extraTrusted ...string) (*IssuerRegistry, error) {
	if defaultIssuer == nil || eip712Issuer == nil {
		return nil, errors.New("both issuers are required")
	}
	trusted := map[string]struct{}{
		defaultIssuer.DID(): {},
		eip712Issuer.DID():  {},
	}
	for _, t := range extraTrusted {
		trusted[t] = struct{}{}
	}
	return &IssuerRegistry{
		defaultIssuer: defaultIssuer,
		eip712Issuer:  eip712Issuer,
		trusted:       trusted,
	}, nil
}

// ForSignatureType resolves the issuer serving a request's signatureType.
func (r *IssuerRegistry) ForSignatureType(signatureType string) Issuer {
	if signatureType == SignatureTypeEIP712 {
		return r.eip712Issuer
	}
	return r.defaultIssuer
}

// Trusted reports whether the given issuer DID is in the trusted set.
func (r *IssuerRegistry) Trusted(issuer string) bool {
	_, ok := r.trusted[issuer]
	return ok
}

// TrustedIssuers returns the trusted issuer DIDs.
func (r *IssuerRegistry) TrustedIssuers() []string {
	out := make([]string, 0, len(r.trusted))
	for t := range r.trusted {
		out = append(out, t)
	}
	return out
}

// RecordHash computes the versioned digest of a provider record that is
// embedded in issued subjects, keyed so equal records hash equally.
func RecordHash(record map[string]string) (string, error) {
	canonical, err := json.Marshal(record)
	if err != nil {
		return "", errors.Wrap(err, "marshaling record for hashing")
	}
	digest := crypto.Keccak256(canonical)
	return HashVersion + ":" + base64.StdEncoding.EncodeToString(digest), nil
}
