package verification

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/credential"
)

// ErrChallengeMismatch marks a delegated session proof whose signed payload is
// not the challenge this service issued.
var ErrChallengeMismatch = errors.New("challenge text does not match the signed payload")

// recoverSigner recovers the account address that produced an EIP-191 personal
// signature over message.
func recoverSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", errors.Wrap(err, "decoding signature")
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// wallets return v as 27/28, recovery wants 0/1
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return "", errors.Wrap(err, "recovering public key")
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// verifyDirectSignature checks a raw wallet signature over the challenge text
// and returns the recovered account address.
func verifyDirectSignature(challenge *credential.VerifiableCredential, signature string) (string, error) {
	text := challenge.CredentialSubject.Challenge()
	if text == "" {
		return "", errors.New("challenge credential carries no challenge text")
	}
	if signature == "" {
		return "", errors.New("no signature provided")
	}
	return recoverSigner(text, signature)
}

// verifySessionProof checks a delegated session proof. The proof's payload must
// be exactly the challenge text we issued; a mismatch is reported as
// ErrChallengeMismatch so callers can surface it distinctly.
func verifySessionProof(challenge *credential.VerifiableCredential, proof *credential.SignedChallenge) (string, error) {
	text := challenge.CredentialSubject.Challenge()
	if text == "" {
		return "", errors.New("challenge credential carries no challenge text")
	}
	if proof.Payload != text {
		return "", ErrChallengeMismatch
	}
	if len(proof.Signatures) == 0 {
		return "", errors.New("session proof carries no signatures")
	}
	return recoverSigner(proof.Payload, proof.Signatures[0].Signature)
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
