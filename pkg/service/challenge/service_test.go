package challenge

import (
	"context"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/internal/credential"
)

const testAddress = "0x0636F974D29d947d4946b2091d769ec6D2d415DE"

func testService(t *testing.T, clk clock.Clock) (*Service, *credential.IssuerRegistry) {
	t.Helper()
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)
	ed, err := credential.NewEd25519Issuer(seed)
	require.NoError(t, err)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	registry, err := credential.NewIssuerRegistry(ed, credential.NewEIP712Issuer(key))
	require.NoError(t, err)

	svc, err := NewChallengeService(config.ChallengeServiceConfig{}, registry, clk)
	require.NoError(t, err)
	return svc, registry
}

func TestIssueChallenge(t *testing.T) {
	svc, registry := testService(t, nil)

	vc, err := svc.IssueChallenge(testAddress, "Simple", "")
	require.NoError(t, err)

	assert.Equal(t, "did:pkh:eip155:1:"+strings.ToLower(testAddress), vc.CredentialSubject.ID())
	assert.Equal(t, "challenge-Simple", vc.CredentialSubject.Provider())
	assert.Equal(t, testAddress, vc.CredentialSubject.Address())
	assert.Contains(t, vc.CredentialSubject.Challenge(), "unique and only Simple verification")
	assert.Contains(t, vc.CredentialSubject.Challenge(), "nonce: ")

	verifier, err := credential.NewVerifier(registry)
	require.NoError(t, err)
	assert.True(t, verifier.TrustedIssuer(vc))
	assert.NoError(t, verifier.VerifyCredential(context.Background(), vc))
}

func TestIssueChallengeEIP712(t *testing.T) {
	svc, registry := testService(t, nil)

	vc, err := svc.IssueChallenge(testAddress, "Simple", credential.SignatureTypeEIP712)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vc.Issuer, "did:ethr:0x"))
	assert.Equal(t, credential.ProofTypeEIP712, vc.Proof.Type)

	verifier, err := credential.NewVerifier(registry)
	require.NoError(t, err)
	assert.NoError(t, verifier.VerifyCredential(context.Background(), vc))
}

func TestChallengeNoncesAreUnique(t *testing.T) {
	svc, _ := testService(t, nil)

	first, err := svc.IssueChallenge(testAddress, "Simple", "")
	require.NoError(t, err)
	second, err := svc.IssueChallenge(testAddress, "Simple", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.CredentialSubject.Challenge(), second.CredentialSubject.Challenge())
}

func TestChallengeExpiry(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := testService(t, clk)

	vc, err := svc.IssueChallenge(testAddress, "Simple", "")
	require.NoError(t, err)
	assert.Equal(t, "2023-06-01T12:05:00Z", vc.ExpirationDate)

	expired, err := vc.Expired(clk.Now().Add(6 * time.Minute))
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestChallengeText(t *testing.T) {
	text := ChallengeText("Google", "abc123")
	assert.Equal(t, "I commit that this stamp is my unique and only Google verification for Passport.\n\nnonce: abc123", text)
}

func TestNewChallengeServiceRequiresIssuers(t *testing.T) {
	_, err := NewChallengeService(config.ChallengeServiceConfig{}, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}
