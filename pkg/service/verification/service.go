// Package verification orchestrates stamp issuance: it checks the challenge
// credential and its signature, evaluates the requested providers in order,
// and mints stamp credentials for the types that verify.
package verification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/internal/did"
	"github.com/stamphq/iam-service/internal/util"
	"github.com/stamphq/iam-service/pkg/service/framework"
	"github.com/stamphq/iam-service/pkg/service/provider"
)

const stampVersion = "0.0.0"

type Service struct {
	issuers     *credential.IssuerRegistry
	verifier    *credential.Verifier
	providers   *provider.Registry
	banFilter   credential.BanFilter
	revocations credential.RevocationFilter
	clock       clock.Clock
}

func (s Service) Type() framework.Type {
	return framework.Verification
}

func (s Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.issuers == nil {
		ae.AppendString("no issuers configured")
	}
	if s.providers == nil {
		ae.AppendString("no provider registry configured")
	}

	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("verification service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewVerificationService(issuers *credential.IssuerRegistry, providers *provider.Registry, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	verifier, err := credential.NewVerifier(issuers)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "instantiating credential verifier")
	}
	service := Service{
		issuers:     issuers,
		verifier:    verifier,
		providers:   providers,
		banFilter:   credential.PassthroughFilter{},
		revocations: credential.PassthroughFilter{},
		clock:       clk,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// SetFilters overrides the default pass-through ban and revocation filters.
func (s *Service) SetFilters(ban credential.BanFilter, revocation credential.RevocationFilter) {
	if ban != nil {
		s.banFilter = ban
	}
	if revocation != nil {
		s.revocations = revocation
	}
}

// VerifyStamps runs the full verify flow and returns one outcome per requested
// stamp type, in request order. A returned *Rejection means the whole request
// fails with that status; per-type failures come back as invalid outcomes.
func (s Service) VerifyStamps(ctx context.Context, request VerifyRequest) ([]TypeOutcome, error) {
	challenge := request.Challenge
	payload := request.Payload

	if !s.verifier.TrustedIssuer(challenge) {
		logrus.WithField("issuer", util.SanitizeLog(challenge.Issuer)).Warn("challenge from untrusted issuer")
		return nil, reject(http.StatusUnauthorized, "Unable to verify payload")
	}
	if err := s.verifier.VerifyCredential(ctx, challenge); err != nil {
		logrus.WithError(err).Warn("challenge credential failed verification")
		return nil, reject(http.StatusUnauthorized, "Unable to verify payload")
	}

	address, err := s.verifyChallengeAndGetAddress(challenge, payload, request.SignedChallenge)
	if err != nil {
		return nil, err
	}

	// the challenge must have been issued for this address and stamp type, and
	// signed by that same address
	challengeAddress := challenge.CredentialSubject.Address()
	isSigner := sameAddress(address, challengeAddress) && sameAddress(payload.Address, challengeAddress)
	isType := challenge.CredentialSubject.Provider() == "challenge-"+payload.Type
	if !isSigner || !isType {
		return nil, reject(http.StatusUnauthorized, "Invalid challenge 'signer' and 'provider'")
	}

	pctx := provider.Context{}
	if payload.Signer != nil {
		signerAddress, signerErr := s.verifyAdditionalSigner(ctx, payload.Signer)
		if signerErr != nil {
			return nil, signerErr
		}
		pctx["signer"] = signerAddress
	}

	types := payload.Types
	if len(types) == 0 {
		types = []string{payload.Type}
	}

	issuer := s.issuers.ForSignatureType(payload.SignatureType)
	outcomes := make([]TypeOutcome, 0, len(types))
	for _, stampType := range types {
		typed := payload
		typed.Type = stampType
		outcomes = append(outcomes, s.verifyType(ctx, issuer, typed, pctx))
	}

	return s.applyFilters(ctx, outcomes), nil
}

// verifyChallengeAndGetAddress recovers the account address from either the
// delegated session proof or the raw wallet signature in the payload proofs.
func (s Service) verifyChallengeAndGetAddress(challenge *credential.VerifiableCredential, payload credential.RequestPayload, proof *credential.SignedChallenge) (string, error) {
	if proof != nil {
		address, err := verifySessionProof(challenge, proof)
		if err != nil {
			logrus.WithError(err).Warn("session proof rejected")
			return "", reject(http.StatusUnauthorized, fmt.Sprintf("Invalid challenge signature: %s", err.Error()))
		}
		return address, nil
	}
	address, err := verifyDirectSignature(challenge, payload.Proofs["signature"])
	if err != nil {
		logrus.WithError(err).Warn("challenge signature rejected")
		return "", reject(http.StatusUnauthorized, "Unable to verify payload")
	}
	return address, nil
}

// verifyAdditionalSigner checks the delegated signer's own challenge credential
// and signature. Only then may providers act on the signer's address.
func (s Service) verifyAdditionalSigner(ctx context.Context, signer *credential.SignerPayload) (string, error) {
	if signer.Challenge == nil || !s.verifier.TrustedIssuer(signer.Challenge) {
		return "", reject(http.StatusUnauthorized, "Unable to verify payload")
	}
	if err := s.verifier.VerifyCredential(ctx, signer.Challenge); err != nil {
		logrus.WithError(err).Warn("signer challenge credential failed verification")
		return "", reject(http.StatusUnauthorized, "Unable to verify payload")
	}
	address, err := verifyDirectSignature(signer.Challenge, signer.Signature)
	if err != nil || !sameAddress(address, signer.Address) {
		return "", reject(http.StatusUnauthorized, "Unable to verify payload")
	}
	return address, nil
}

// verifyType evaluates one provider and mints a stamp when it verifies.
func (s Service) verifyType(ctx context.Context, issuer credential.Issuer, payload credential.RequestPayload, pctx provider.Context) TypeOutcome {
	p, ok := s.providers.Get(payload.Type)
	if !ok {
		return TypeOutcome{
			Type:   payload.Type,
			Valid:  false,
			Errors: []string{"Unsupported provider"},
			Code:   http.StatusBadRequest,
		}
	}

	result, err := p.Verify(ctx, payload, pctx)
	if err != nil {
		logrus.WithError(err).WithField("type", util.SanitizeLog(payload.Type)).Error("provider verification errored")
		return TypeOutcome{
			Type:   payload.Type,
			Valid:  false,
			Errors: []string{fmt.Sprintf("Unable to verify payload: %s", err.Error())},
			Code:   http.StatusInternalServerError,
		}
	}
	if !result.Valid {
		code := result.Code
		if code == 0 {
			code = http.StatusForbidden
		}
		return TypeOutcome{Type: payload.Type, Valid: false, Errors: result.Errors, Code: code}
	}

	outcome, err := s.mintStamp(issuer, payload, result)
	if err != nil {
		logrus.WithError(err).Error("minting stamp credential")
		return TypeOutcome{
			Type:   payload.Type,
			Valid:  false,
			Errors: []string{fmt.Sprintf("Unable to verify payload: %s", err.Error())},
			Code:   http.StatusInternalServerError,
		}
	}
	return outcome
}

// mintStamp issues the stamp credential for a verified provider result. The
// provider record is never embedded directly; only its hash is.
func (s Service) mintStamp(issuer credential.Issuer, payload credential.RequestPayload, result *provider.VerifiedResult) (TypeOutcome, error) {
	mintedTag := payload.Type
	if result.PII != "" {
		mintedTag = payload.Type + "#" + result.PII
	}

	record := map[string]string{
		"type":    mintedTag,
		"version": stampVersion,
	}
	for k, v := range result.Record {
		record[k] = v
	}
	hash, err := credential.RecordHash(record)
	if err != nil {
		return TypeOutcome{}, errors.Wrap(err, "hashing stamp record")
	}

	subjectDID, err := did.PKHForAddress(payload.Address)
	if err != nil {
		return TypeOutcome{}, errors.Wrap(err, "building stamp subject")
	}

	now := s.clock.Now().UTC()
	vc := &credential.VerifiableCredential{
		Context: []string{credential.DefaultContext},
		Type:    []string{credential.TypeVerifiableCredential, credential.TypeStamp},
		Issuer:  issuer.DID(),
		CredentialSubject: credential.CredentialSubject{
			"id":       subjectDID,
			"provider": mintedTag,
			"hash":     hash,
		},
		IssuanceDate:   now.Format(time.RFC3339),
		ExpirationDate: now.Add(credential.StampExpiresIn).Format(time.RFC3339),
	}
	if err = issuer.Sign(vc); err != nil {
		return TypeOutcome{}, errors.Wrap(err, "signing stamp credential")
	}

	return TypeOutcome{
		Type:       payload.Type,
		Valid:      true,
		Record:     record,
		Credential: vc,
	}, nil
}

// applyFilters drops banned or revoked minted credentials. A filter error is
// non-fatal: the unfiltered outcomes pass through.
func (s Service) applyFilters(ctx context.Context, outcomes []TypeOutcome) []TypeOutcome {
	minted := make([]*credential.VerifiableCredential, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Valid {
			minted = append(minted, o.Credential)
		}
	}
	if len(minted) == 0 {
		return outcomes
	}

	kept := minted
	filtered, err := s.banFilter.FilterBanned(ctx, kept)
	if err != nil {
		logrus.WithError(err).Warn("ban filter failed, passing credentials through")
	} else {
		kept = filtered
	}
	filtered, err = s.revocations.FilterRevoked(ctx, kept)
	if err != nil {
		logrus.WithError(err).Warn("revocation filter failed, passing credentials through")
	} else {
		kept = filtered
	}

	allowed := make(map[*credential.VerifiableCredential]struct{}, len(kept))
	for _, vc := range kept {
		allowed[vc] = struct{}{}
	}
	for i, o := range outcomes {
		if !o.Valid {
			continue
		}
		if _, ok := allowed[o.Credential]; !ok {
			outcomes[i] = TypeOutcome{
				Type:   o.Type,
				Valid:  false,
				Errors: []string{"Credential is no longer eligible"},
				Code:   http.StatusForbidden,
			}
		}
	}
	return outcomes
}

// CheckStamps evaluates providers without issuing credentials or requiring a
// challenge signature. Unknown types come back invalid rather than erroring.
func (s Service) CheckStamps(ctx context.Context, payload credential.RequestPayload) []CheckOutcome {
	types := payload.Types
	if len(types) == 0 && payload.Type != "" {
		types = []string{payload.Type}
	}

	pctx := provider.Context{}
	outcomes := make([]CheckOutcome, 0, len(types))
	for _, stampType := range types {
		typed := payload
		typed.Type = stampType

		p, ok := s.providers.Get(stampType)
		if !ok {
			outcomes = append(outcomes, CheckOutcome{
				Type:  stampType,
				Valid: false,
				Error: "Unsupported provider",
				Code:  http.StatusBadRequest,
			})
			continue
		}
		result, err := p.Verify(ctx, typed, pctx)
		if err != nil {
			outcomes = append(outcomes, CheckOutcome{
				Type:  stampType,
				Valid: false,
				Error: fmt.Sprintf("Unable to verify payload: %s", err.Error()),
				Code:  http.StatusInternalServerError,
			})
			continue
		}
		outcome := CheckOutcome{Type: stampType, Valid: result.Valid}
		if !result.Valid {
			outcome.Error = strings.Join(result.Errors, ", ")
			outcome.Code = result.Code
			if outcome.Code == 0 {
				outcome.Code = http.StatusForbidden
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
