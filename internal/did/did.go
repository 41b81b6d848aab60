// Package did contains helpers for the DID methods this service understands:
// did:pkh for credential subjects, did:key for the default issuer, and did:ethr
// for the EIP-712 issuer.
package did

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

const (
	// EVMChainReference is the CAIP-2 reference subjects are anchored to.
	EVMChainReference = "eip155:1"

	pkhPrefix  = "did:pkh:"
	keyPrefix  = "did:key:"
	ethrPrefix = "did:ethr:"
)

// ed25519 multicodec prefix, varint encoded
var ed25519Codec = []byte{0xed, 0x01}

// PKHForAddress returns the did:pkh identifier for an account address,
// e.g. did:pkh:eip155:1:0xabc...
func PKHForAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.Errorf("not a valid account address: %s", address)
	}
	return fmt.Sprintf("%s%s:%s", pkhPrefix, EVMChainReference, strings.ToLower(address)), nil
}

// AddressFromPKH extracts the account address from a did:pkh identifier.
func AddressFromPKH(did string) (string, error) {
	if !strings.HasPrefix(did, pkhPrefix) {
		return "", errors.Errorf("not a did:pkh: %s", did)
	}
	split := strings.Split(did, ":")
	address := split[len(split)-1]
	if !common.IsHexAddress(address) {
		return "", errors.Errorf("did:pkh<%s> does not contain a valid account address", did)
	}
	return address, nil
}

// KeyForEd25519 returns the did:key identifier for an ed25519 public key,
// using the multicodec-prefixed base58btc multibase encoding.
func KeyForEd25519(pubKey ed25519.PublicKey) string {
	prefixed := append(append([]byte{}, ed25519Codec...), pubKey...)
	return keyPrefix + "z" + base58.Encode(prefixed)
}

// Ed25519FromKey extracts the ed25519 public key from a did:key identifier.
func Ed25519FromKey(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, keyPrefix) {
		return nil, errors.Errorf("not a did:key: %s", did)
	}
	encoded := strings.TrimPrefix(did, keyPrefix)
	if !strings.HasPrefix(encoded, "z") {
		return nil, errors.Errorf("did:key<%s> is not base58btc multibase encoded", did)
	}
	decoded, err := base58.Decode(strings.TrimPrefix(encoded, "z"))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding did:key<%s>", did)
	}
	if len(decoded) != len(ed25519Codec)+ed25519.PublicKeySize || decoded[0] != ed25519Codec[0] || decoded[1] != ed25519Codec[1] {
		return nil, errors.Errorf("did:key<%s> is not an ed25519 key", did)
	}
	return ed25519.PublicKey(decoded[len(ed25519Codec):]), nil
}

// EthrForAddress returns the did:ethr identifier for an account address.
func EthrForAddress(address common.Address) string {
	return ethrPrefix + strings.ToLower(address.Hex())
}

// AddressFromEthr extracts the account address from a did:ethr identifier.
func AddressFromEthr(did string) (common.Address, error) {
	if !strings.HasPrefix(did, ethrPrefix) {
		return common.Address{}, errors.Errorf("not a did:ethr: %s", did)
	}
	split := strings.Split(did, ":")
	address := split[len(split)-1]
	if !common.IsHexAddress(address) {
		return common.Address{}, errors.Errorf("did:ethr<%s> does not contain a valid account address", did)
	}
	return common.HexToAddress(address), nil
}
