package did

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPKH(t *testing.T) {
	address := "0x5678000000000000000000000000000000000000"
	did, err := PKHForAddress(address)
	require.NoError(t, err)
	assert.Equal(t, "did:pkh:eip155:1:0x5678000000000000000000000000000000000000", did)

	gotAddress, err := AddressFromPKH(did)
	assert.NoError(t, err)
	assert.Equal(t, address, gotAddress)

	// checksummed input is lowercased in the did
	checksummedDID, err := PKHForAddress(common.HexToAddress(address).Hex())
	require.NoError(t, err)
	assert.Equal(t, did, checksummedDID)

	_, err = PKHForAddress("0x5678")
	assert.Error(t, err)

	_, err = AddressFromPKH("did:pkh:eip155:1:0x5678")
	assert.Error(t, err)

	_, err = AddressFromPKH("did:key:z6Mk")
	assert.Error(t, err)
}

func TestKeyForEd25519(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	did := KeyForEd25519(pub)
	assert.True(t, strings.HasPrefix(did, "did:key:z"))

	gotPub, err := Ed25519FromKey(did)
	assert.NoError(t, err)
	assert.Equal(t, pub, gotPub)

	_, err = Ed25519FromKey("did:key:bogus")
	assert.Error(t, err)
}

func TestEthr(t *testing.T) {
	address := common.HexToAddress("0x0987654321098765432109876543210987654321")
	did := EthrForAddress(address)
	assert.Equal(t, "did:ethr:0x0987654321098765432109876543210987654321", did)

	gotAddress, err := AddressFromEthr(did)
	assert.NoError(t, err)
	assert.Equal(t, address, gotAddress)

	_, err = AddressFromEthr("did:ethr:nope")
	assert.Error(t, err)
}
