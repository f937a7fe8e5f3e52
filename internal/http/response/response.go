package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engramlabs/engram-backend/internal/platform/errs"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

// RespondKind maps an error's kind onto a status: validation problems are
// the caller's fault, transient ones are the backend's, the rest are ours.
func RespondKind(c *gin.Context, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errs.KindTransient:
		RespondError(c, http.StatusBadGateway, "upstream_unavailable", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
