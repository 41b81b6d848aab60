// Package challenge issues short-lived challenge credentials that bind an
// account address to a stamp type and a fresh nonce. A subject must sign the
// challenge text with the account's key before any stamp is issued.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/internal/did"
	"github.com/stamphq/iam-service/pkg/service/framework"
)

const nonceSize = 32

type Service struct {
	config  config.ChallengeServiceConfig
	issuers *credential.IssuerRegistry
	clock   clock.Clock
}

func (s Service) Type() framework.Type {
	return framework.Challenge
}

func (s Service) Status() framework.Status {
	ae := sdkutil.NewAppendError()
	if s.issuers == nil {
		ae.AppendString("no issuers configured")
	}

	if !ae.IsEmpty() {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: fmt.Sprintf("challenge service is not ready: %s", ae.Error().Error()),
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewChallengeService(config config.ChallengeServiceConfig, issuers *credential.IssuerRegistry, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	service := Service{
		config:  config,
		issuers: issuers,
		clock:   clk,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// ChallengeText is the exact statement the subject's wallet must sign.
func ChallengeText(stampType, nonce string) string {
	return fmt.Sprintf("I commit that this stamp is my unique and only %s verification for Passport.\n\nnonce: %s", stampType, nonce)
}

// IssueChallenge mints a signed challenge credential for the given account
// address and stamp type. The credential expires five minutes after issuance.
func (s Service) IssueChallenge(address, stampType, signatureType string) (*credential.VerifiableCredential, error) {
	subjectDID, err := did.PKHForAddress(address)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "building challenge subject")
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "generating challenge nonce")
	}

	issuer := s.issuers.ForSignatureType(signatureType)
	now := s.clock.Now().UTC()
	vc := &credential.VerifiableCredential{
		Context: []string{credential.DefaultContext},
		Type:    []string{credential.TypeVerifiableCredential},
		Issuer:  issuer.DID(),
		CredentialSubject: credential.CredentialSubject{
			"id":        subjectDID,
			"provider":  "challenge-" + stampType,
			"address":   address,
			"challenge": ChallengeText(stampType, nonce),
		},
		IssuanceDate:   now.Format(time.RFC3339),
		ExpirationDate: now.Add(credential.ChallengeExpiresIn).Format(time.RFC3339),
	}

	if err = issuer.Sign(vc); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "signing challenge credential")
	}

	logrus.WithFields(logrus.Fields{
		"address": address,
		"type":    stampType,
	}).Debug("issued challenge credential")
	return vc, nil
}

func newNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random nonce bytes")
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
