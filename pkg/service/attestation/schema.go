package attestation

import (
	"encoding/base64"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/credential"
)

func mustNewType(signature string) abi.Type {
	t, err := abi.NewType(signature, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

var (
	bytes32Type      = mustNewType("bytes32")
	uint256ArrayType = mustNewType("uint256[]")
	bytes32ArrayType = mustNewType("bytes32[]")
	uint64ArrayType  = mustNewType("uint64[]")
	uint256Type      = mustNewType("uint256")
	uint32Type       = mustNewType("uint32")
	uint16Type       = mustNewType("uint16")
	uint8Type        = mustNewType("uint8")
)

var stampArgs = abi.Arguments{
	{Name: "provider", Type: bytes32Type},
	{Name: "hash", Type: bytes32Type},
}

var passportArgs = abi.Arguments{
	{Name: "providers", Type: uint256ArrayType},
	{Name: "hashes", Type: bytes32ArrayType},
	{Name: "issuanceDates", Type: uint64ArrayType},
	{Name: "expirationDates", Type: uint64ArrayType},
	{Name: "providerMapVersion", Type: uint16Type},
}

var scoreArgs = abi.Arguments{
	{Name: "score", Type: uint256Type},
	{Name: "scorer_id", Type: uint32Type},
	{Name: "score_decimals", Type: uint8Type},
}

// decodeRecordHash converts a subject hash claim ("v0.0.0:<base64 digest>")
// into the 32-byte digest attested on chain.
func decodeRecordHash(hash string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(hash, credential.HashVersion+":")
	digest, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return out, errors.Wrap(err, "decoding record hash")
	}
	if len(digest) != 32 {
		return out, errors.Errorf("record hash must be 32 bytes, got %d", len(digest))
	}
	copy(out[:], digest)
	return out, nil
}

// encodeStamp ABI-encodes one stamp as (bytes32 provider, bytes32 hash), where
// provider is the keccak256 of the provider tag.
func encodeStamp(vc *credential.VerifiableCredential) ([]byte, error) {
	hash, err := decodeRecordHash(vc.CredentialSubject.Hash())
	if err != nil {
		return nil, err
	}
	provider := crypto.Keccak256Hash([]byte(vc.CredentialSubject.Provider()))
	return stampArgs.Pack([32]byte(provider), hash)
}

// ProviderMap assigns each known provider tag a stable bit position. The map is
// versioned so on-chain consumers can decode historic attestations after new
// providers are added.
type ProviderMap struct {
	version   uint16
	positions map[string]int
}

func NewProviderMap(version uint16, tags ...string) *ProviderMap {
	positions := make(map[string]int, len(tags))
	for i, tag := range tags {
		positions[tag] = i
	}
	return &ProviderMap{version: version, positions: positions}
}

func (m *ProviderMap) Version() uint16 { return m.version }

func (m *ProviderMap) Position(tag string) (int, bool) {
	pos, ok := m.positions[tag]
	return pos, ok
}

// encodePassport ABI-encodes a credential bundle as one passport entry: a
// provider bitmap plus parallel hash and date arrays, ordered by bit position.
func encodePassport(credentials []*credential.VerifiableCredential, providerMap *ProviderMap) ([]byte, error) {
	words := 1
	for _, vc := range credentials {
		pos, ok := providerMap.Position(vc.CredentialSubject.Provider())
		if !ok {
			return nil, errors.Errorf("provider <%s> missing from provider map", vc.CredentialSubject.Provider())
		}
		if pos/256+1 > words {
			words = pos/256 + 1
		}
	}

	providers := make([]*big.Int, words)
	for i := range providers {
		providers[i] = new(big.Int)
	}
	hashes := make([][32]byte, 0, len(credentials))
	issuanceDates := make([]uint64, 0, len(credentials))
	expirationDates := make([]uint64, 0, len(credentials))

	for _, vc := range credentials {
		pos, _ := providerMap.Position(vc.CredentialSubject.Provider())
		providers[pos/256].SetBit(providers[pos/256], pos%256, 1)

		hash, err := decodeRecordHash(vc.CredentialSubject.Hash())
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)

		issued, err := time.Parse(time.RFC3339, vc.IssuanceDate)
		if err != nil {
			return nil, errors.Wrap(err, "parsing issuanceDate")
		}
		expires, err := time.Parse(time.RFC3339, vc.ExpirationDate)
		if err != nil {
			return nil, errors.Wrap(err, "parsing expirationDate")
		}
		issuanceDates = append(issuanceDates, uint64(issued.Unix()))
		expirationDates = append(expirationDates, uint64(expires.Unix()))
	}

	return passportArgs.Pack(providers, hashes, issuanceDates, expirationDates, providerMap.Version())
}

const scoreDecimals = 4

// encodeScore ABI-encodes the recipient's score as a fixed-point uint256.
func encodeScore(score float64, scorerID uint32) ([]byte, error) {
	scaled, _ := new(big.Float).Mul(big.NewFloat(score), big.NewFloat(1e4)).Int(nil)
	return scoreArgs.Pack(scaled, scorerID, uint8(scoreDecimals))
}
