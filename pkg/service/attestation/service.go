// Package attestation converts verified stamp credentials into schema-encoded,
// fee-priced batch attestation requests, signed meta-transaction style so a
// relayer can submit them on chain on the subject's behalf.
package attestation

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/internal/did"
	"github.com/stamphq/iam-service/pkg/service/framework"
)

const zeroRefUID = "0x0000000000000000000000000000000000000000000000000000000000000000"

// FeeQuoter converts the configured USD fee into native token base units.
// Satisfied by the price service.
type FeeQuoter interface {
	FeeAmount(ctx context.Context, usdFee float64) (*big.Int, error)
}

// ScoreReader supplies the recipient's score for passport-bundle attestations.
type ScoreReader interface {
	Score(ctx context.Context, address string) (float64, error)
}

// StaticScoreReader returns the same score for every recipient. Deployments
// wire a scorer-backed implementation instead.
type StaticScoreReader struct {
	Value float64
}

func (r StaticScoreReader) Score(context.Context, string) (float64, error) {
	return r.Value, nil
}

type chainDeployment struct {
	config config.ChainConfig
	signer *Signer
}

type Service struct {
	config      config.AttestationServiceConfig
	verifier    *credential.Verifier
	fees        FeeQuoter
	scores      ScoreReader
	providerMap *ProviderMap
	chains      map[string]chainDeployment
}

func (s Service) Type() framework.Type {
	return framework.Attestation
}

func (s Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.verifier == nil {
		ae.AppendString("no credential verifier configured")
	}
	if s.fees == nil {
		ae.AppendString("no fee quoter configured")
	}
	if len(s.chains) == 0 {
		ae.AppendString("no chain deployments configured")
	}

	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("attestation service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewAttestationService(cfg config.AttestationServiceConfig, issuers *credential.IssuerRegistry, fees FeeQuoter, scores ScoreReader, signingKey *ecdsa.PrivateKey, providerMap *ProviderMap) (*Service, error) {
	verifier, err := credential.NewVerifier(issuers)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "instantiating credential verifier")
	}
	if signingKey == nil {
		return nil, sdkutil.LoggingNewError("attestation signing key is required")
	}
	if scores == nil {
		scores = StaticScoreReader{}
	}

	chains := make(map[string]chainDeployment, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		chainID, err := hexutil.DecodeBig(chain.ChainIDHex)
		if err != nil {
			return nil, sdkutil.LoggingErrorMsgf(err, "parsing chain id <%s>", chain.ChainIDHex)
		}
		chains[chain.ChainIDHex] = chainDeployment{
			config: chain,
			signer: NewSigner(signingKey, chainID, chain.VerifierContract),
		}
	}

	service := Service{
		config:      cfg,
		verifier:    verifier,
		fees:        fees,
		scores:      scores,
		providerMap: providerMap,
		chains:      chains,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// FormatStampBatch builds one attestation per stamp credential under the
// chain's stamp schema. The fee rides on the first entry; the rest carry zero.
func (s Service) FormatStampBatch(ctx context.Context, request StampBatchRequest) (*SignedBatch, error) {
	chain, recipient, err := s.checkBatch(ctx, request.Credentials, string(request.Nonce), request.ChainIDHex)
	if err != nil {
		return nil, err
	}

	fee, err := s.fees.FeeAmount(ctx, s.config.FeeUSD)
	if err != nil {
		return nil, errors.Wrap(err, "quoting attestation fee")
	}

	entries := make([]AttestationRequestData, 0, len(request.Credentials))
	for i, vc := range request.Credentials {
		encoded, err := encodeStamp(vc)
		if err != nil {
			return nil, errors.Wrap(err, "encoding stamp")
		}
		value := big.NewInt(0)
		if i == 0 {
			value = fee
		}
		entries = append(entries, AttestationRequestData{
			Recipient:      recipient,
			ExpirationTime: 0,
			Revocable:      true,
			RefUID:         zeroRefUID,
			Data:           encoded,
			Value:          (*hexutil.Big)(value),
		})
	}

	batch := []MultiAttestationRequest{{Schema: chain.config.StampSchema, Data: entries}}
	return s.signBatch(chain, batch, string(request.Nonce), fee)
}

// FormatPassportBatch bundles all credentials into one passport entry plus a
// score entry, both bound to the named recipient.
func (s Service) FormatPassportBatch(ctx context.Context, request PassportBatchRequest) (*SignedBatch, error) {
	if len(request.Credentials) == 0 {
		return nil, reject(http.StatusBadRequest, "No stamps provided")
	}
	chain, ok := s.chains[request.ChainIDHex]
	if !ok {
		return nil, reject(http.StatusNotFound, fmt.Sprintf("No onchainInfo found for chainId %s", request.ChainIDHex))
	}
	if err := s.checkNonce(string(request.Nonce)); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(request.Recipient) {
		return nil, reject(http.StatusBadRequest, "Invalid recipient")
	}

	if err := s.partitionInvalid(ctx, request.Credentials); err != nil {
		return nil, err
	}

	recipientDID, err := did.PKHForAddress(request.Recipient)
	if err != nil {
		return nil, reject(http.StatusBadRequest, "Invalid recipient")
	}
	for _, vc := range request.Credentials {
		if vc.CredentialSubject.ID() != recipientDID {
			return nil, reject(http.StatusBadRequest, "Every credential's id must be equivalent to that of the recipient")
		}
	}

	fee, err := s.fees.FeeAmount(ctx, s.config.FeeUSD)
	if err != nil {
		return nil, errors.Wrap(err, "quoting attestation fee")
	}

	passportData, err := encodePassport(request.Credentials, s.providerMap)
	if err != nil {
		return nil, errors.Wrap(err, "encoding passport")
	}

	score, err := s.scores.Score(ctx, request.Recipient)
	if err != nil {
		return nil, errors.Wrap(err, "reading recipient score")
	}
	scoreData, err := encodeScore(score, uint32(s.config.ScorerID))
	if err != nil {
		return nil, errors.Wrap(err, "encoding score")
	}

	batch := []MultiAttestationRequest{
		{
			Schema: chain.config.PassportSchema,
			Data: []AttestationRequestData{{
				Recipient:      request.Recipient,
				ExpirationTime: 0,
				Revocable:      true,
				RefUID:         zeroRefUID,
				Data:           passportData,
				Value:          (*hexutil.Big)(fee),
			}},
		},
		{
			Schema: chain.config.ScoreSchema,
			Data: []AttestationRequestData{{
				Recipient:      request.Recipient,
				ExpirationTime: 0,
				Revocable:      true,
				RefUID:         zeroRefUID,
				Data:           scoreData,
				Value:          (*hexutil.Big)(big.NewInt(0)),
			}},
		},
	}
	return s.signBatch(chain, batch, string(request.Nonce), fee)
}

// checkBatch runs the shared stamp-batch preconditions and resolves the
// recipient address from the credentials' common subject.
func (s Service) checkBatch(ctx context.Context, credentials []*credential.VerifiableCredential, nonce, chainIDHex string) (chainDeployment, string, error) {
	var chain chainDeployment
	if len(credentials) == 0 {
		return chain, "", reject(http.StatusBadRequest, "No stamps provided")
	}
	chain, ok := s.chains[chainIDHex]
	if !ok {
		return chain, "", reject(http.StatusNotFound, fmt.Sprintf("No onchainInfo found for chainId %s", chainIDHex))
	}
	if err := s.checkNonce(nonce); err != nil {
		return chain, "", err
	}

	if err := s.partitionInvalid(ctx, credentials); err != nil {
		return chain, "", err
	}

	subject := credentials[0].CredentialSubject.ID()
	for _, vc := range credentials[1:] {
		if vc.CredentialSubject.ID() != subject {
			return chain, "", reject(http.StatusBadRequest, "Every credential's id must be equivalent")
		}
	}

	recipient, err := credentials[0].SubjectAddress()
	if err != nil || !common.IsHexAddress(recipient) {
		return chain, "", reject(http.StatusBadRequest, "Invalid recipient")
	}
	return chain, common.HexToAddress(recipient).Hex(), nil
}

func (s Service) checkNonce(nonce string) error {
	if _, ok := new(big.Int).SetString(nonce, 10); !ok {
		return reject(http.StatusBadRequest, "Invalid nonce")
	}
	return nil
}

// partitionInvalid re-verifies every credential. Any failure rejects the whole
// batch; mixed-validity batches are never partially attested. A JSON null in
// the credentials array decodes to a nil entry and counts as invalid.
func (s Service) partitionInvalid(ctx context.Context, credentials []*credential.VerifiableCredential) error {
	var invalid []*credential.VerifiableCredential
	for _, vc := range credentials {
		if vc == nil || !s.verifier.TrustedIssuer(vc) {
			invalid = append(invalid, vc)
			continue
		}
		if err := s.verifier.VerifyCredential(ctx, vc); err != nil {
			logrus.WithError(err).Debug("credential failed attestation re-verification")
			invalid = append(invalid, vc)
		}
	}
	if len(invalid) > 0 {
		return &InvalidCredentialsError{InvalidCredentials: invalid}
	}
	return nil
}

func (s Service) signBatch(chain chainDeployment, batch []MultiAttestationRequest, nonce string, fee *big.Int) (*SignedBatch, error) {
	signature, err := chain.signer.Sign(batch, nonce, fee)
	if err != nil {
		return nil, errors.Wrap(err, "signing attestation batch")
	}
	return &SignedBatch{
		Passport: PassportPayload{
			MultiAttestationRequest: batch,
			Nonce:                   nonce,
			Fee:                     fee.String(),
		},
		Signature:          *signature,
		InvalidCredentials: []*credential.VerifiableCredential{},
	}, nil
}
