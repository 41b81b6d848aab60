package service

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"strings"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/pkg/service/attestation"
	"github.com/stamphq/iam-service/pkg/service/challenge"
	"github.com/stamphq/iam-service/pkg/service/framework"
	"github.com/stamphq/iam-service/pkg/service/price"
	"github.com/stamphq/iam-service/pkg/service/provider"
	"github.com/stamphq/iam-service/pkg/service/verification"
)

const providerMapVersion = 1

// IAMService represents all services and their dependencies independent of transport
type IAMService struct {
	Challenge    *challenge.Service
	Verification *verification.Service
	Price        *price.Service
	Attestation  *attestation.Service
}

func (s *IAMService) GetServices() []framework.Service {
	return []framework.Service{
		s.Challenge,
		s.Verification,
		s.Price,
		s.Attestation,
	}
}

// InstantiateIAMService creates a new instance of the IAM service which instantiates all services
// and their dependencies independent of transport.
func InstantiateIAMService(config config.ServicesConfig) (*IAMService, error) {
	issuers, signingKey, err := instantiateIssuers(config)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate issuers")
	}

	providers := provider.NewRegistry(
		provider.SimpleProvider{},
		provider.ClearTextSimpleProvider{},
	)

	challengeService, err := challenge.NewChallengeService(config.ChallengeConfig, issuers, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the challenge service")
	}

	verificationService, err := verification.NewVerificationService(issuers, providers, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the verification service")
	}

	priceService, err := price.NewPriceService(config.PriceConfig, nil)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the price service")
	}

	providerMap := attestation.NewProviderMap(providerMapVersion,
		provider.TypeSimple,
		provider.TypeClearTextSimple+"#Username",
	)
	attestationService, err := attestation.NewAttestationService(config.AttestationConfig, issuers, priceService, nil, signingKey, providerMap)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "could not instantiate the attestation service")
	}

	return &IAMService{
		Challenge:    challengeService,
		Verification: verificationService,
		Price:        priceService,
		Attestation:  attestationService,
	}, nil
}

// instantiateIssuers loads the issuer key material from config. Missing keys
// fall back to fresh ephemeral keys so dev instances come up, with a warning
// since credentials signed by them will not verify after a restart.
func instantiateIssuers(config config.ServicesConfig) (*credential.IssuerRegistry, *ecdsa.PrivateKey, error) {
	seed, err := loadEd25519Seed(config.Ed25519Seed)
	if err != nil {
		return nil, nil, err
	}
	ed25519Issuer, err := credential.NewEd25519Issuer(seed)
	if err != nil {
		return nil, nil, err
	}

	ecdsaKey, err := loadECDSAKey(config.EIP712Key)
	if err != nil {
		return nil, nil, err
	}

	issuers, err := credential.NewIssuerRegistry(ed25519Issuer, credential.NewEIP712Issuer(ecdsaKey), config.ExtraTrustedIssuers...)
	if err != nil {
		return nil, nil, err
	}
	return issuers, ecdsaKey, nil
}

func loadEd25519Seed(encoded string) ([]byte, error) {
	if encoded == "" {
		logrus.Warnf("%s not set, generating an ephemeral issuer key", config.Ed25519SeedEnvVar)
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
		return seed, nil
	}
	return hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
}

func loadECDSAKey(encoded string) (*ecdsa.PrivateKey, error) {
	if encoded == "" {
		logrus.Warnf("%s not set, generating an ephemeral signing key", config.EIP712KeyEnvVar)
		return ethcrypto.GenerateKey()
	}
	return ethcrypto.HexToECDSA(strings.TrimPrefix(encoded, "0x"))
}
