package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/pkg/server/framework"
	svcframework "github.com/stamphq/iam-service/pkg/service/framework"
	"github.com/stamphq/iam-service/pkg/service/verification"
)

type VerificationRouter struct {
	service *verification.Service
}

func NewVerificationRouter(s svcframework.Service) (*VerificationRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	verificationService, ok := s.(*verification.Service)
	if !ok {
		return nil, fmt.Errorf("could not create verification router with service type: %s", s.Type())
	}
	return &VerificationRouter{service: verificationService}, nil
}

// StampResponse is one issued stamp: the provider record alongside the
// credential whose subject hash commits to it.
type StampResponse struct {
	Record     map[string]string                `json:"record"`
	Credential *credential.VerifiableCredential `json:"credential"`
}

// FailedStampResponse is one failed entry in a multi-type verify response.
type FailedStampResponse struct {
	Valid bool     `json:"valid"`
	Error []string `json:"error,omitempty"`
	Code  int      `json:"code,omitempty"`
}

// Verify checks the signed challenge, runs the requested providers in order,
// and returns the issued stamps. Single-type requests get a single object;
// multi-type requests get an array aligned with the requested types.
func (vr VerificationRouter) Verify(c *gin.Context) {
	var request verification.VerifyRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Incorrect payload", http.StatusBadRequest)
		return
	}
	if request.Challenge == nil || request.Payload.Address == "" || request.Payload.Type == "" {
		framework.LoggingRespondErrMsg(c, "Incorrect payload", http.StatusBadRequest)
		return
	}

	multi := len(request.Payload.Types) > 0
	outcomes, err := vr.service.VerifyStamps(c, request)
	if err != nil {
		var rejection *verification.Rejection
		if errors.As(err, &rejection) {
			framework.LoggingRespondErrMsg(c, rejection.Reason, rejection.Status)
			return
		}
		framework.LoggingRespondErrMsg(c, fmt.Sprintf("Unable to verify payload: %s", err.Error()), http.StatusInternalServerError)
		return
	}

	if !multi {
		outcome := outcomes[0]
		if !outcome.Valid {
			reason := "Unable to verify provider"
			if len(outcome.Errors) > 0 {
				reason = outcome.Errors[0]
			}
			framework.LoggingRespondErrMsg(c, reason, outcome.Code)
			return
		}
		framework.Respond(c, StampResponse{Record: outcome.Record, Credential: outcome.Credential}, http.StatusOK)
		return
	}

	responses := make([]any, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Valid {
			responses = append(responses, StampResponse{Record: outcome.Record, Credential: outcome.Credential})
			continue
		}
		responses = append(responses, FailedStampResponse{Valid: false, Error: outcome.Errors, Code: outcome.Code})
	}
	framework.Respond(c, responses, http.StatusOK)
}
