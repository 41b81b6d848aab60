package attestation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/credential"
)

// Nonce is a batch nonce. Clients send it either as a JSON number or as a
// base-10 string; both normalize to the string form the signer encodes.
type Nonce string

func (n *Nonce) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return errors.Wrap(err, "decoding nonce string")
		}
		*n = Nonce(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return errors.Wrap(err, "decoding nonce number")
	}
	*n = Nonce(num.String())
	return nil
}

// StampBatchRequest is the body of an attestation call for individual stamps.
type StampBatchRequest struct {
	Credentials []*credential.VerifiableCredential `json:"credentials"`
	Nonce       Nonce                              `json:"nonce"`
	ChainIDHex  string                             `json:"chainIdHex"`
}

// PassportBatchRequest is the recipient-bound variant: all credentials must
// belong to the named recipient and are bundled into one passport entry.
type PassportBatchRequest struct {
	Recipient   string                             `json:"recipient"`
	Credentials []*credential.VerifiableCredential `json:"credentials"`
	Nonce       Nonce                              `json:"nonce"`
	ChainIDHex  string                             `json:"chainIdHex"`
}

// AttestationRequestData is one attestation inside a batched request. Value is
// the fee share in native token base units; exactly one entry in a batch
// carries the full fee.
type AttestationRequestData struct {
	Recipient      string        `json:"recipient"`
	ExpirationTime uint64        `json:"expirationTime"`
	Revocable      bool          `json:"revocable"`
	RefUID         string        `json:"refUID"`
	Data           hexutil.Bytes `json:"data"`
	Value          *hexutil.Big  `json:"value"`
}

// MultiAttestationRequest groups attestations sharing one schema.
type MultiAttestationRequest struct {
	Schema string                   `json:"schema"`
	Data   []AttestationRequestData `json:"data"`
}

// PassportPayload is the signed portion of an attestation response.
type PassportPayload struct {
	MultiAttestationRequest []MultiAttestationRequest `json:"multiAttestationRequest"`
	Nonce                   string                    `json:"nonce"`
	Fee                     string                    `json:"fee"`
}

// SplitSignature is an ECDSA signature in the v/r/s form on-chain verifiers expect.
type SplitSignature struct {
	V uint8  `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

// SignedBatch is the full response of a successful attestation call.
type SignedBatch struct {
	Passport           PassportPayload                    `json:"passport"`
	Signature          SplitSignature                     `json:"signature"`
	InvalidCredentials []*credential.VerifiableCredential `json:"invalidCredentials"`
}

// Rejection is an attestation failure that maps to a specific HTTP status.
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

// InvalidCredentialsError rejects a batch containing credentials that failed
// re-verification. Mixed-validity batches are never partially attested.
type InvalidCredentialsError struct {
	InvalidCredentials []*credential.VerifiableCredential
}

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("%d credentials failed verification", len(e.InvalidCredentials))
}
