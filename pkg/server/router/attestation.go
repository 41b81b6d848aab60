package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/stamphq/iam-service/pkg/server/framework"
	"github.com/stamphq/iam-service/pkg/service/attestation"
	svcframework "github.com/stamphq/iam-service/pkg/service/framework"
)

type AttestationRouter struct {
	service *attestation.Service
}

func NewAttestationRouter(s svcframework.Service) (*AttestationRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	attestationService, ok := s.(*attestation.Service)
	if !ok {
		return nil, fmt.Errorf("could not create attestation router with service type: %s", s.Type())
	}
	return &AttestationRouter{service: attestationService}, nil
}

// FormatStamps builds a signed batch attestation request with one entry per
// stamp credential.
func (ar AttestationRouter) FormatStamps(c *gin.Context) {
	var request attestation.StampBatchRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Incorrect payload", http.StatusBadRequest)
		return
	}

	batch, err := ar.service.FormatStampBatch(c, request)
	if err != nil {
		respondAttestationError(c, err)
		return
	}
	framework.Respond(c, batch, http.StatusOK)
}

// FormatPassport builds a signed batch attestation request bundling all stamps
// into one passport entry plus a score entry for the recipient.
func (ar AttestationRouter) FormatPassport(c *gin.Context) {
	var request attestation.PassportBatchRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Incorrect payload", http.StatusBadRequest)
		return
	}

	batch, err := ar.service.FormatPassportBatch(c, request)
	if err != nil {
		respondAttestationError(c, err)
		return
	}
	framework.Respond(c, batch, http.StatusOK)
}

func respondAttestationError(c *gin.Context, err error) {
	var rejection *attestation.Rejection
	if errors.As(err, &rejection) {
		framework.LoggingRespondErrMsg(c, rejection.Reason, rejection.Status)
		return
	}

	// mixed-validity batches are rejected wholesale with the failing credentials
	var invalidErr *attestation.InvalidCredentialsError
	if errors.As(err, &invalidErr) {
		_ = c.Error(invalidErr)
		framework.Respond(c, framework.ErrorResponse{
			Error: map[string]any{"invalidCredentials": invalidErr.InvalidCredentials},
		}, http.StatusBadRequest)
		return
	}

	framework.LoggingRespondErrWithMsg(c, err, fmt.Sprintf("Error formatting onchain passport, %s", err.Error()), http.StatusInternalServerError)
}
