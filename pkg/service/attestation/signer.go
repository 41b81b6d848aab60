package attestation

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

const (
	signingDomainName    = "StampVerifier"
	signingDomainVersion = "1"
)

// Signer produces the EIP-712 meta-transaction signature a relayer submits to
// the on-chain verifier alongside the batch.
type Signer struct {
	key               *ecdsa.PrivateKey
	chainID           *big.Int
	verifyingContract string
}

func NewSigner(key *ecdsa.PrivateKey, chainID *big.Int, verifyingContract string) *Signer {
	return &Signer{key: key, chainID: chainID, verifyingContract: verifyingContract}
}

func (s *Signer) typedData(batch []MultiAttestationRequest, nonce string, fee *big.Int) apitypes.TypedData {
	requests := make([]any, 0, len(batch))
	for _, request := range batch {
		entries := make([]any, 0, len(request.Data))
		for _, d := range request.Data {
			entries = append(entries, map[string]any{
				"recipient":      d.Recipient,
				"expirationTime": new(big.Int).SetUint64(d.ExpirationTime).String(),
				"revocable":      d.Revocable,
				"refUID":         d.RefUID,
				"data":           d.Data.String(),
				"value":          (*big.Int)(d.Value).String(),
			})
		}
		requests = append(requests, map[string]any{
			"schema": request.Schema,
			"data":   entries,
		})
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"PassportAttestationRequest": {
				{Name: "multiAttestationRequest", Type: "MultiAttestationRequest[]"},
				{Name: "nonce", Type: "uint256"},
				{Name: "fee", Type: "uint256"},
			},
			"MultiAttestationRequest": {
				{Name: "schema", Type: "bytes32"},
				{Name: "data", Type: "AttestationRequestData[]"},
			},
			"AttestationRequestData": {
				{Name: "recipient", Type: "address"},
				{Name: "expirationTime", Type: "uint64"},
				{Name: "revocable", Type: "bool"},
				{Name: "refUID", Type: "bytes32"},
				{Name: "data", Type: "bytes"},
				{Name: "value", Type: "uint256"},
			},
		},
		PrimaryType: "PassportAttestationRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              signingDomainName,
			Version:           signingDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(s.chainID),
			VerifyingContract: s.verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"multiAttestationRequest": requests,
			"nonce":                   nonce,
			"fee":                     fee.String(),
		},
	}
}

// Sign hashes the batch as EIP-712 typed data and returns a split signature.
func (s *Signer) Sign(batch []MultiAttestationRequest, nonce string, fee *big.Int) (*SplitSignature, error) {
	typedData := s.typedData(batch, nonce, fee)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, errors.Wrap(err, "hashing signing domain")
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, errors.Wrap(err, "hashing attestation request")
	}
	digest := crypto.Keccak256(append(append([]byte{0x19, 0x01}, domainSeparator...), messageHash...))

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "signing attestation request")
	}
	return &SplitSignature{
		V: sig[crypto.RecoveryIDOffset] + 27,
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
	}, nil
}

// Address is the signing account, the one the on-chain verifier trusts.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// DomainSeparator is the EIP-712 domain hash this signer signs under, useful
// for off-process signature verification against the deployed verifier.
func (s *Signer) DomainSeparator() (string, error) {
	typedData := s.typedData(nil, "0", big.NewInt(0))
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", errors.Wrap(err, "hashing signing domain")
	}
	return hexutil.Encode(domainSeparator), nil
}
