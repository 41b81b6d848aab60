package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/pkg/server/framework"
	"github.com/stamphq/iam-service/pkg/service/verification"
)

type CheckRequest struct {
	Payload credential.RequestPayload `json:"payload"`
}

// Check answers "would these providers accept these proofs" without issuing
// anything. UI pre-flight; no challenge or signature is required.
func (vr VerificationRouter) Check(c *gin.Context) {
	var request CheckRequest
	if err := framework.Decode(c.Request, &request); err != nil {
		framework.LoggingRespondErrWithMsg(c, err, "Incorrect payload", http.StatusBadRequest)
		return
	}
	if request.Payload.Address == "" {
		framework.LoggingRespondErrMsg(c, "Incorrect payload", http.StatusBadRequest)
		return
	}

	outcomes := vr.service.CheckStamps(c, request.Payload)
	if outcomes == nil {
		outcomes = []verification.CheckOutcome{}
	}
	framework.Respond(c, outcomes, http.StatusOK)
}
