package handler

import (
	"errors"
	"net/http"

	"github.com/ethaccount/userop/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

const (
	codeOK      = 0
	codeGeneric = 1000
)

// responseCodes maps domain error names to API response codes
var responseCodes = map[string]int{
	domain.ErrorCodeParameterInvalid.Name:     1001,
	domain.ErrorCodeResourceNotFound.Name:     1002,
	domain.ErrorCodeAuthPermissionDenied.Name: 1003,
	domain.ErrorCodeAuthNotAuthenticated.Name: 1004,
	domain.ErrorCodeInternalProcess.Name:      1005,
	domain.ErrorCodeRemoteProcessError.Name:   1006,
	domain.ErrorCodeAccountNotFound.Name:      1007,
}

func respondWithSuccess(c *gin.Context, data interface{}) {
	respondWithSuccessAndStatus(c, http.StatusOK, data)
}

// respondWithSuccessAndStatus sends a successful response with a custom HTTP status and message
func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}

	c.JSON(httpStatus, StandardResponse{
		Code:    codeOK,
		Message: msg,
		Data:    data,
	})
}

// respondWithError converts err to the standard format. Errors that are not
// domain errors are reported as INTERNAL_PROCESS.
func respondWithError(c *gin.Context, err error) {
	var domainErr domain.DomainError
	_ = errors.As(err, &domainErr)

	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    mapDomainErrorToCode(domainErr),
		Message: message,
	}
	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	status := domainErr.HTTPStatus()
	logEvent(c, status).
		Err(err).
		Int("error_code", response.Code).
		Msg(response.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, response)
}

// respondWithCustomError sends an error response that does not come from a domain error
func respondWithCustomError(c *gin.Context, httpStatus int, code int, message string, errorDetail interface{}) {
	logEvent(c, httpStatus).
		Int("error_code", code).
		Msg(message)

	c.AbortWithStatusJSON(httpStatus, StandardResponse{
		Code:    code,
		Message: message,
		Error:   errorDetail,
	})
}

// logEvent logs client errors at warn and server errors at error level
func logEvent(c *gin.Context, httpStatus int) *zerolog.Event {
	logger := zerolog.Ctx(c.Request.Context())
	if httpStatus >= http.StatusInternalServerError {
		return logger.Error()
	}
	return logger.Warn()
}

func mapDomainErrorToCode(domainErr domain.DomainError) int {
	if code, ok := responseCodes[domainErr.Name()]; ok {
		return code
	}
	return codeGeneric
}
