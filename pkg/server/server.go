// Package server contains the full set of handler functions and routes
// supported by the http api
package server

import (
	"os"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/pkg/server/framework"
	"github.com/stamphq/iam-service/pkg/server/middleware"
	"github.com/stamphq/iam-service/pkg/server/router"
	"github.com/stamphq/iam-service/pkg/service"
)

const (
	HealthPrefix    = "/health"
	ReadinessPrefix = "/readiness"

	APIPrefix               = "/api/v0.0.0"
	ChallengePath           = "/challenge"
	VerifyPath              = "/verify"
	CheckPath               = "/check"
	AttestationPath         = "/eas"
	PassportAttestationPath = "/eas/passport"
)

// IAMServer exposes all dependencies needed to run a http server and all its services
type IAMServer struct {
	*config.ServerConfig
	*service.IAMService
	*framework.Server
}

// NewIAMServer does two things: instantiates all services and registers their HTTP bindings
func NewIAMServer(shutdown chan os.Signal, cfg config.IAMServiceConfig) (*IAMServer, error) {
	// creates an HTTP server from the framework, and wrap it to extend it for the IAM service
	engine := setUpEngine(cfg.Server, shutdown)
	httpServer := framework.NewServer(cfg.Server, engine, shutdown)
	engine.Use(httpServer.Tracing())

	iam, err := service.InstantiateIAMService(cfg.Services)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate iam service")
	}

	// service-level routers
	engine.GET(HealthPrefix, router.Health)
	engine.GET(ReadinessPrefix, router.Readiness(iam.GetServices()))

	// register all versioned routers
	api := engine.Group(APIPrefix)
	if err = CredentialAPI(api, iam); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate credential API")
	}
	if err = AttestationAPI(api, iam); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate attestation API")
	}

	return &IAMServer{
		Server:       httpServer,
		IAMService:   iam,
		ServerConfig: &cfg.Server,
	}, nil
}

// setUpEngine creates the gin engine and sets up the middleware based on config
func setUpEngine(cfg config.ServerConfig, shutdown chan os.Signal) *gin.Engine {
	middlewares := gin.HandlersChain{
		gin.Recovery(),
		middleware.Errors(),
		middleware.Logger(logrus.StandardLogger()),
		middleware.Metrics(),
	}
	if cfg.EnableAllowAllCORS {
		middlewares = append(middlewares, middleware.CORS())
	}

	// set up engine and middleware
	engine := gin.New()
	engine.Use(middlewares...)

	switch cfg.Environment {
	case config.EnvironmentDev:
		gin.SetMode(gin.DebugMode)
	case config.EnvironmentTest:
		gin.SetMode(gin.TestMode)
	case config.EnvironmentProd:
		gin.SetMode(gin.ReleaseMode)
	}
	return engine
}

// CredentialAPI registers the challenge, verify, and check routes
func CredentialAPI(rg *gin.RouterGroup, iam *service.IAMService) error {
	challengeRouter, err := router.NewChallengeRouter(iam.Challenge)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating challenge router")
	}
	verificationRouter, err := router.NewVerificationRouter(iam.Verification)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating verification router")
	}

	rg.POST(ChallengePath, challengeRouter.IssueChallenge)
	rg.POST(VerifyPath, verificationRouter.Verify)
	rg.POST(CheckPath, verificationRouter.Check)
	return nil
}

// AttestationAPI registers the attestation formatting routes
func AttestationAPI(rg *gin.RouterGroup, iam *service.IAMService) error {
	attestationRouter, err := router.NewAttestationRouter(iam.Attestation)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating attestation router")
	}

	rg.POST(AttestationPath, attestationRouter.FormatStamps)
	rg.POST(PassportAttestationPath, attestationRouter.FormatPassport)
	return nil
}
