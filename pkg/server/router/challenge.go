package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/pkg/server/framework"
	"github.com/stamphq/iam-service/pkg/service/challenge"
	svcframework "github.com/stamphq/iam-service/pkg/service/framework"
)

type ChallengeRouter struct {
	service *challenge.Service
}

func NewChallengeRouter(s svcframework.Service) (*ChallengeRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	challengeService, ok := s.(*challenge.Service)
	if !ok {
		return nil, fmt.Errorf("could not create challenge router with service type: %s", s.Type())
	}
	return &ChallengeRouter{service: challengeService}, nil
}

type ChallengeRequest struct {
	Payload struct {
		Type          string `json:"type"`
		Address       string `json:"address"`
		SignatureType string `json:"signatureType,omitempty"`
	} `json:"payload"`
}

type CredentialResponse struct {
	Credential *credential.VerifiableCredential `json:"credential"`
}

// IssueChallenge mints a short-lived challenge credential binding a fresh
// nonce to the requested (address, type) pair.
func (cr ChallengeRouter) IssueChallenge(c *gin.Context) {
	var request ChallengeRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Incorrect payload", http.StatusBadRequest)
		return
	}

	if request.Payload.Address == "" {
		framework.LoggingRespondErrMsg(c, "Missing address from challenge request body", http.StatusBadRequest)
		return
	}
	if request.Payload.Type == "" {
		framework.LoggingRespondErrMsg(c, "Missing type from challenge request body", http.StatusBadRequest)
		return
	}

	vc, err := cr.service.IssueChallenge(request.Payload.Address, request.Payload.Type, request.Payload.SignatureType)
	if err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Unable to produce a verifiable credential", http.StatusInternalServerError)
		return
	}

	framework.Respond(c, CredentialResponse{Credential: vc}, http.StatusOK)
}
